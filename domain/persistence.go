// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "context"

// DedupFilter answers whether a message has already been persisted. Lookups
// are scoped to (Message-ID, mailbox name); implementations must be safe for
// concurrent cycles over different mailboxes.
type DedupFilter interface {
	Exists(messageId string, mailbox string) (bool, error)
}

// MessageSink accepts parsed messages for storage. The engine hands over
// ownership on Store; it retains nothing after a message has been yielded.
type MessageSink interface {
	Store(message *ParsedMessage, mailbox string) error
}

// Notifier is told about newly ingested mail once per mailbox cycle.
type Notifier interface {
	NotifyNewMail(ctx context.Context, mailbox string, count int) error
}
