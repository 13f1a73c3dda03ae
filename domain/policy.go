// SPDX-License-Identifier: GPL-3.0-or-later
package domain

// RetentionPolicy decides which messages a cycle selects, how they are
// fetched and what happens to them on the server after they have been
// accepted. A policy is fixed for the duration of one cycle.
type RetentionPolicy string

const (
	// DeleteAfterProcessing selects all messages and permanently removes
	// accepted ones (flag \Deleted per message, one batched expunge at the
	// end of the cycle).
	DeleteAfterProcessing = RetentionPolicy("delete")
	// MarkSeenAfterProcessing selects all messages and marks accepted ones
	// with \Seen.
	MarkSeenAfterProcessing = RetentionPolicy("mark-seen")
	// FetchUnseenAndMarkSeen selects only unseen messages and marks accepted
	// ones with \Seen.
	FetchUnseenAndMarkSeen = RetentionPolicy("unseen-mark-seen")
	// FetchUnseenPeekOnly selects only unseen messages and leaves the server
	// completely untouched; dedup by Message-ID is the only thing preventing
	// reprocessing.
	FetchUnseenPeekOnly = RetentionPolicy("unseen-peek")
)

func (p RetentionPolicy) Valid() bool {
	switch p {
	case DeleteAfterProcessing, MarkSeenAfterProcessing, FetchUnseenAndMarkSeen, FetchUnseenPeekOnly:
		return true
	}
	return false
}

// UnseenOnly reports whether candidate selection is restricted to messages
// without the \Seen flag.
func (p RetentionPolicy) UnseenOnly() bool {
	return p == FetchUnseenAndMarkSeen || p == FetchUnseenPeekOnly
}

// Peek reports whether message content must be fetched without setting the
// \Seen flag. Only the peek-only policy needs this; for all others a normal
// fetch setting \Seen is harmless or desired.
func (p RetentionPolicy) Peek() bool {
	return p == FetchUnseenPeekOnly
}

// Outcome classifies what happened to one candidate message within a cycle.
type Outcome string

const (
	Yielded            = Outcome("yielded")
	SkippedDuplicate   = Outcome("skipped-duplicate")
	SkippedByCondition = Outcome("skipped-by-condition")
	ParseFailed        = Outcome("parse-error")
	FetchFailed        = Outcome("fetch-error")
)

// CycleSummary aggregates per-message outcomes of one cycle. Outcomes are not
// individually persisted; callers log them as they see fit.
type CycleSummary struct {
	Yielded            int
	SkippedDuplicate   int
	SkippedByCondition int
	ParseErrors        int
	FetchErrors        int

	// UidValidity as reported by the server when the folder was selected.
	// The engine assumes a stable UID space within one cycle only; callers
	// needing cross-cycle guarantees must reconcile on this value themselves.
	UidValidity uint32
}

func (s CycleSummary) Count(o Outcome) int {
	switch o {
	case Yielded:
		return s.Yielded
	case SkippedDuplicate:
		return s.SkippedDuplicate
	case SkippedByCondition:
		return s.SkippedByCondition
	case ParseFailed:
		return s.ParseErrors
	case FetchFailed:
		return s.FetchErrors
	}
	return 0
}

// MailboxConfig describes one IMAP mailbox for the duration of one cycle.
type MailboxConfig struct {
	// Name identifies the mailbox for logging and dedup scoping. Two
	// mailboxes with different names may legitimately store messages sharing
	// a Message-ID.
	Name string

	Host     string
	User     string
	Password string

	// TLS dials an implicit-TLS connection, StartTLS upgrades a plain one.
	// With both unset the connection stays plain.
	TLS      bool
	StartTLS bool

	// Folder to ingest from, INBOX when empty.
	Folder string

	// Archive is an optional folder accepted messages are copied into before
	// any retention effect is applied. Empty disables archiving.
	Archive string

	// MaxSize is an optional byte ceiling; larger messages are skipped via a
	// size probe before any full fetch. Zero disables the filter.
	MaxSize uint32

	Retention RetentionPolicy
}
