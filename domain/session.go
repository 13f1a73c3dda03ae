// SPDX-License-Identifier: GPL-3.0-or-later
package domain

// MailSession is one live, authenticated IMAP connection with a selected
// folder. Implementations are not safe for concurrent use; a cycle issues
// operations strictly sequentially and guarantees Close on every exit path.
type MailSession interface {
	// UidValidity of the selected folder as reported by the server. UIDs are
	// only stable while this value is unchanged.
	UidValidity() uint32
	// ListUids returns the UIDs of all messages in the selected folder, in
	// server-returned order.
	ListUids() ([]uint32, error)
	// SearchUnseen returns the UIDs of messages lacking the \Seen flag. An
	// empty result is a valid outcome, not an error.
	SearchUnseen() ([]uint32, error)
	// FetchSizes probes RFC822.SIZE for the given UIDs without fetching
	// content or mutating flags.
	FetchSizes(uids []uint32) (map[uint32]uint32, error)
	// FetchMessage retrieves the full content of one message. With peek set
	// the retrieval provably leaves all flags untouched; without it the
	// server sets \Seen as a protocol side effect. A fetch returning no
	// content is an error (message vanished, likely expunged by another
	// client).
	FetchMessage(uid uint32, peek bool) (*RawMessage, error)
	// EnsureFolder creates the named folder if it does not exist yet.
	EnsureFolder(name string) error
	// Copy copies one message into the named folder.
	Copy(uid uint32, folder string) error
	// MarkSeen adds the \Seen flag. Re-asserting it is a harmless no-op on
	// the server.
	MarkSeen(uids []uint32) error
	// FlagDeleted marks messages for removal by a later Expunge.
	FlagDeleted(uids []uint32) error
	// ExpungeReady reports (as the first return value) why a batched expunge
	// cannot currently be issued safely, or nil when it can.
	ExpungeReady() (error, error)
	// Expunge permanently removes the given previously-flagged messages.
	// Irreversible.
	Expunge(uids []uint32) error
	// Close logs out and drops the connection. Idempotent, safe after a
	// prior failure.
	Close() error
}
