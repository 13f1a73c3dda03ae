// SPDX-License-Identifier: GPL-3.0-or-later
package ingest

import (
	"fmt"

	"github.com/mailwatch/go-imap-ingest/domain"
)

// fakeSession is a scriptable domain.MailSession recording every mutating
// protocol operation a cycle issues.
type fakeSession struct {
	uidValidity uint32

	uids      []uint32
	listErr   error
	unseen    []uint32
	searchErr error

	sizes    map[uint32]uint32
	sizesErr error

	messages map[uint32][]byte
	peeked   map[uint32]bool

	ensureErr error
	ensured   []string

	copied  map[uint32]string
	copyErr error

	seen    []uint32
	seenErr error

	deleted   []uint32
	deleteErr error

	notReadyReason error
	readyErr       error

	expunged   [][]uint32
	expungeErr error

	closed int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		uidValidity: 123,
		messages:    map[uint32][]byte{},
		peeked:      map[uint32]bool{},
		copied:      map[uint32]string{},
	}
}

func (f *fakeSession) UidValidity() uint32 {
	return f.uidValidity
}

func (f *fakeSession) ListUids() ([]uint32, error) {
	return f.uids, f.listErr
}

func (f *fakeSession) SearchUnseen() ([]uint32, error) {
	return f.unseen, f.searchErr
}

func (f *fakeSession) FetchSizes(uids []uint32) (map[uint32]uint32, error) {
	return f.sizes, f.sizesErr
}

func (f *fakeSession) FetchMessage(uid uint32, peek bool) (*domain.RawMessage, error) {
	f.peeked[uid] = peek
	body, ok := f.messages[uid]
	if !ok {
		return nil, fmt.Errorf("no content returned for message %d, message vanished", uid)
	}
	return &domain.RawMessage{Uid: uid, Body: body}, nil
}

func (f *fakeSession) EnsureFolder(name string) error {
	if f.ensureErr != nil {
		return f.ensureErr
	}
	f.ensured = append(f.ensured, name)
	return nil
}

func (f *fakeSession) Copy(uid uint32, folder string) error {
	if f.copyErr != nil {
		return f.copyErr
	}
	f.copied[uid] = folder
	return nil
}

func (f *fakeSession) MarkSeen(uids []uint32) error {
	if f.seenErr != nil {
		return f.seenErr
	}
	f.seen = append(f.seen, uids...)
	return nil
}

func (f *fakeSession) FlagDeleted(uids []uint32) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, uids...)
	return nil
}

func (f *fakeSession) ExpungeReady() (error, error) {
	return f.notReadyReason, f.readyErr
}

func (f *fakeSession) Expunge(uids []uint32) error {
	if f.expungeErr != nil {
		return f.expungeErr
	}
	f.expunged = append(f.expunged, uids)
	return nil
}

func (f *fakeSession) Close() error {
	f.closed++
	return nil
}

type fakeDedup struct {
	existing map[string]bool
	err      error
	lookups  [][2]string
}

func (f *fakeDedup) Exists(messageId string, mailbox string) (bool, error) {
	f.lookups = append(f.lookups, [2]string{messageId, mailbox})
	if f.err != nil {
		return false, f.err
	}
	return f.existing[mailbox+"/"+messageId], nil
}

type storedMessage struct {
	mailbox string
	message *domain.ParsedMessage
}

type fakeSink struct {
	stored []storedMessage
	err    error
}

func (f *fakeSink) Store(message *domain.ParsedMessage, mailbox string) error {
	f.stored = append(f.stored, storedMessage{mailbox: mailbox, message: message})
	return f.err
}

func rawMessage(messageId, subject string) []byte {
	raw := fmt.Sprintf(
		"From: sender@example.org\r\nSubject: %s\r\nDate: Fri, 21 Nov 1997 09:55:06 -0600\r\nContent-Type: text/plain\r\n",
		subject,
	)
	if len(messageId) > 0 {
		raw += fmt.Sprintf("Message-ID: <%s>\r\n", messageId)
	}
	return []byte(raw + "\r\nhello\r\n")
}

func u32a(val ...int) []uint32 {
	a := []uint32{}
	for _, v := range val {
		a = append(a, uint32(v))
	}
	return a
}
