// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"fmt"

	"github.com/emersion/go-imap"
)

// expunger issues the single batched expunge at the end of a delete-policy
// cycle. The messages have already been flagged \Deleted one by one while the
// cycle iterated.
type expunger interface {
	expunge(uids []uint32) error
	expungeReady() (error, error)
}

type uidExpungeClient interface {
	UidExpunge(seqSet *imap.SeqSet, ch chan uint32) error
}

// uidPlusExpunger expunges exactly the given UIDs via UID EXPUNGE, leaving
// messages other clients may have flagged untouched.
type uidPlusExpunger struct {
	uidplusClient uidExpungeClient
}

func (u *uidPlusExpunger) expunge(uids []uint32) error {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uids...)

	out := make(chan uint32)
	done := make(chan error, 1)
	go func() {
		done <- u.uidplusClient.UidExpunge(seqset, out)
	}()

	expunged := []uint32{}
	for uid := range out {
		expunged = append(expunged, uid)
	}

	err := <-done
	if err != nil {
		return fmt.Errorf("could not expunge messages: %w", err)
	}

	if len(expunged) != len(uids) {
		return fmt.Errorf("unexpected number of expunges, expected %d got %d", len(uids), len(expunged))
	}

	return nil
}

func (u *uidPlusExpunger) expungeReady() (error, error) {
	// UIDPLUS expunges by uid and is therefore always ready
	return nil, nil
}

type expungeAndSearchClient interface {
	Expunge(ch chan uint32) error
	UidSearch(criteria *imap.SearchCriteria) (uids []uint32, err error)
}

// compatibilityExpunger falls back to a plain EXPUNGE, which removes every
// message carrying \Deleted. It is only safe when the folder had no such
// flags before the cycle started; expungeReady checks that and is consulted
// before any flagging happens.
type compatibilityExpunger struct {
	imapConn expungeAndSearchClient
}

func (c *compatibilityExpunger) expunge(uids []uint32) error {
	out := make(chan uint32)
	done := make(chan error, 1)
	go func() {
		done <- c.imapConn.Expunge(out)
	}()

	expunged := []uint32{}
	for seq := range out {
		expunged = append(expunged, seq)
	}

	err := <-done
	if err != nil {
		return fmt.Errorf("could not expunge messages: %w", err)
	}

	if len(expunged) != len(uids) {
		return fmt.Errorf("unexpected number of expunges, expected %d got %d", len(uids), len(expunged))
	}

	return nil
}

var ItemsWithDeletedFlagPresent = fmt.Errorf("folder has previous items with delete flag set")

func (c *compatibilityExpunger) expungeReady() (error, error) {
	// A plain EXPUNGE deletes everything that has the flag set, so the
	// folder is only ready when no message carries it yet.
	criteria := imap.NewSearchCriteria()
	criteria.WithFlags = []string{imap.DeletedFlag}
	ids, err := c.imapConn.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("could not search for deleted in folder: %w", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}
	return ItemsWithDeletedFlagPresent, nil
}
