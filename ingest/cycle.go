// SPDX-License-Identifier: GPL-3.0-or-later
package ingest

import (
	"context"
	"fmt"

	"github.com/mailwatch/go-imap-ingest/domain"
	"github.com/mailwatch/go-imap-ingest/mail"

	"github.com/sirupsen/logrus"
)

// Cycle is the lazy, pull-based iteration over one mailbox's candidate
// messages. The suspension point is between one message's full processing
// (fetch, parse, dedup, archive copy, retention effect) and the next: nothing
// happens on the server between a Next returning and the following call.
//
// A consumer may stop early; Close must run on every exit path and is
// idempotent. Early termination never issues the delete policy's batched
// expunge, so messages that were never evaluated cannot be lost. Context
// cancellation between messages stops selecting further candidates and
// proceeds to finalization.
type Cycle struct {
	cfg       domain.MailboxConfig
	session   domain.MailSession
	dedup     domain.DedupFilter
	condition func(*domain.ParsedMessage) bool

	handles []uint32
	pos     int
	archive bool
	flagged []uint32

	summary   domain.CycleSummary
	cancelled bool
	closed    bool

	l logrus.FieldLogger
}

// Next produces the next accepted message, skipping over per-message
// failures and filtered candidates. It returns false once all candidates
// have been evaluated or the context was cancelled.
func (c *Cycle) Next(ctx context.Context) (*domain.ParsedMessage, bool) {
	for c.pos < len(c.handles) {
		if err := ctx.Err(); err != nil {
			c.cancelled = true
			c.l.WithField("remaining", len(c.handles)-c.pos).Info("Cancelled, not selecting further messages")
			return nil, false
		}

		uid := c.handles[c.pos]
		c.pos++
		l := c.l.WithField("uid", uid)

		raw, err := c.session.FetchMessage(uid, c.cfg.Retention.Peek())
		if err != nil {
			c.summary.FetchErrors++
			l.WithFields(logrus.Fields{"outcome": domain.FetchFailed, "error": err}).Warn("Could not fetch message, skipping")
			continue
		}

		parsed, err := mail.Parse(uid, raw.Body)
		if err != nil {
			c.summary.ParseErrors++
			l.WithFields(logrus.Fields{"outcome": domain.ParseFailed, "error": err}).Warn("Could not parse message, skipping")
			continue
		}

		if c.condition != nil && !c.condition(parsed) {
			c.summary.SkippedByCondition++
			l.WithField("outcome", domain.SkippedByCondition).Debug("Message filtered out by condition")
			continue
		}

		if len(parsed.MessageId) > 0 {
			exists, err := c.dedup.Exists(parsed.MessageId, c.cfg.Name)
			if err != nil {
				// A broken dedup store must not stall ingestion; the message
				// is treated as new.
				l.WithField("error", err).Error("Dedup lookup failed, treating message as new")
			} else if exists {
				// If a normal fetch already set \Seen above, that side
				// effect stands; it is an inherent trade-off of the
				// non-peek policies.
				c.summary.SkippedDuplicate++
				l.WithFields(logrus.Fields{"outcome": domain.SkippedDuplicate, "messageid": parsed.MessageId}).Debug("Message already persisted for this mailbox")
				continue
			}
		}

		if c.archive {
			err := c.session.Copy(uid, c.cfg.Archive)
			if err != nil {
				// Logged only, the message has been accepted regardless
				l.WithFields(logrus.Fields{"folder": c.cfg.Archive, "error": err}).Warn("Could not copy message to archive")
			}
		}

		c.enforce(uid, l)

		c.summary.Yielded++
		l.WithFields(logrus.Fields{"outcome": domain.Yielded, "subject": mail.ShortSubject(parsed.Subject)}).Debug("Accepted message")
		return parsed, true
	}

	return nil, false
}

// enforce applies the policy's per-message server-side effect. The message
// has already been archived, so a delete can never lose the only copy.
// Failures are logged; the message may be selected again next cycle, which
// is safe because dedup prevents duplicate storage.
func (c *Cycle) enforce(uid uint32, l logrus.FieldLogger) {
	switch c.cfg.Retention {
	case domain.DeleteAfterProcessing:
		err := c.session.FlagDeleted([]uint32{uid})
		if err != nil {
			l.WithField("error", err).Warn("Could not flag message deleted, it stays on the server")
			return
		}
		c.flagged = append(c.flagged, uid)
	case domain.MarkSeenAfterProcessing, domain.FetchUnseenAndMarkSeen:
		err := c.session.MarkSeen([]uint32{uid})
		if err != nil {
			l.WithField("error", err).Warn("Could not mark message seen, it may be selected again next cycle")
		}
	case domain.FetchUnseenPeekOnly:
		// No server state changes, ever
	}
}

// Close finalizes the cycle: for the delete policy it issues the single
// batched expunge, but only if the iteration ran to completion (all
// candidates evaluated, or cleanly cancelled). The session is closed on
// every path. Close is idempotent.
func (c *Cycle) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var expungeErr error
	if c.cfg.Retention == domain.DeleteAfterProcessing && len(c.flagged) > 0 {
		if c.completed() {
			c.l.WithField("count", len(c.flagged)).Info("Expunging deleted messages")
			expungeErr = c.session.Expunge(c.flagged)
			if expungeErr != nil {
				c.l.WithField("error", expungeErr).Error("Could not expunge, messages remain flagged deleted")
			}
		} else {
			c.l.WithField("count", len(c.flagged)).Warn("Iteration abandoned before completion, not expunging")
		}
	}

	closeErr := c.session.Close()

	if expungeErr != nil {
		return fmt.Errorf("could not expunge messages: %w", expungeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("could not close session: %w", closeErr)
	}

	return nil
}

// Summary of the outcome counts so far. Final once Next returned false and
// Close ran.
func (c *Cycle) Summary() domain.CycleSummary {
	return c.summary
}

func (c *Cycle) completed() bool {
	return c.pos == len(c.handles) || c.cancelled
}
