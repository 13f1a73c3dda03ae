// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"errors"
	"fmt"
)

// ErrorKind names the failure classes of a cycle. Connection and selection
// failures are fatal for the affected mailbox's cycle; everything else is
// absorbed per message and only reflected in the outcome tally.
type ErrorKind string

const (
	ConnectionError = ErrorKind("connection")
	SelectionError  = ErrorKind("selection")
	FetchError      = ErrorKind("fetch")
	ParseError      = ErrorKind("parse")
	ArchiveError    = ErrorKind("archive")
	RetentionError  = ErrorKind("retention")
)

// CycleError is a cycle-level failure for one mailbox. Other mailboxes in a
// multi-mailbox run are unaffected.
type CycleError struct {
	Kind    ErrorKind
	Mailbox string
	Err     error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s error on mailbox %s: %v", e.Kind, e.Mailbox, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a CycleError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}
