// SPDX-License-Identifier: GPL-3.0-or-later
package ingest

import (
	"context"
	"fmt"

	"github.com/mailwatch/go-imap-ingest/domain"
	"github.com/mailwatch/go-imap-ingest/imapconnection"
	"github.com/mailwatch/go-imap-ingest/log"

	"github.com/sirupsen/logrus"
)

// Dialer opens a live session for one mailbox.
type Dialer func(cfg domain.MailboxConfig) (domain.MailSession, error)

// Engine runs retention-policy-aware ingestion cycles. One engine serves any
// number of mailboxes; each cycle owns exactly one connection and is accessed
// strictly sequentially. The DedupFilter is the only shared collaborator and
// must tolerate concurrent cycles over different mailboxes.
type Engine struct {
	dedup     domain.DedupFilter
	dial      Dialer
	condition func(*domain.ParsedMessage) bool

	l logrus.FieldLogger
}

func NewEngine(dedup domain.DedupFilter, configFunc ...ConfigFunc) (*Engine, error) {
	engine := &Engine{
		dedup: dedup,
		dial: func(cfg domain.MailboxConfig) (domain.MailSession, error) {
			return imapconnection.Connect(cfg)
		},
		l: log.Logger(log.LOG_INGEST),
	}

	for _, f := range configFunc {
		err := f(engine)
		if err != nil {
			return nil, fmt.Errorf("error applying configuration: %w", err)
		}
	}

	return engine, nil
}

// Start opens a session for the mailbox and determines the candidate set.
// On success the returned cycle must be closed on every exit path; Start
// itself closes the session on every failure path. Failures are classified:
// dial/login problems as connection errors, listing/search problems as
// selection errors, a folder unsafe for batched expunge as a retention error.
func (e *Engine) Start(ctx context.Context, cfg domain.MailboxConfig) (*Cycle, error) {
	if !cfg.Retention.Valid() {
		return nil, fmt.Errorf("unknown retention policy %q for mailbox %s", cfg.Retention, cfg.Name)
	}

	session, err := e.dial(cfg)
	if err != nil {
		return nil, &domain.CycleError{Kind: domain.ConnectionError, Mailbox: cfg.Name, Err: err}
	}

	l := e.l.WithFields(logrus.Fields{"mailbox": cfg.Name, "policy": string(cfg.Retention)})

	if err := ctx.Err(); err != nil {
		_ = session.Close()
		return nil, &domain.CycleError{Kind: domain.ConnectionError, Mailbox: cfg.Name, Err: err}
	}

	if cfg.Retention == domain.DeleteAfterProcessing {
		notReadyReason, err := session.ExpungeReady()
		if err != nil {
			_ = session.Close()
			return nil, &domain.CycleError{Kind: domain.RetentionError, Mailbox: cfg.Name, Err: err}
		}
		if notReadyReason != nil {
			_ = session.Close()
			return nil, &domain.CycleError{Kind: domain.RetentionError, Mailbox: cfg.Name, Err: notReadyReason}
		}
	}

	var uids []uint32
	if cfg.Retention.UnseenOnly() {
		uids, err = session.SearchUnseen()
	} else {
		uids, err = session.ListUids()
	}
	if err != nil {
		_ = session.Close()
		return nil, &domain.CycleError{Kind: domain.SelectionError, Mailbox: cfg.Name, Err: err}
	}

	l.WithField("candidates", len(uids)).Debug("Selected candidate messages")

	if cfg.MaxSize > 0 && len(uids) > 0 {
		uids = filterBySize(session, uids, cfg.MaxSize, l)
	}

	archive := len(cfg.Archive) > 0
	if archive && len(uids) > 0 {
		err := session.EnsureFolder(cfg.Archive)
		if err != nil {
			// Archiving is best-effort and never blocks ingestion
			l.WithFields(logrus.Fields{"folder": cfg.Archive, "error": err}).Warn("Could not ensure archive folder, archiving disabled for this cycle")
			archive = false
		}
	}

	return &Cycle{
		cfg:       cfg,
		session:   session,
		dedup:     e.dedup,
		condition: e.condition,
		handles:   uids,
		archive:   archive,
		summary:   domain.CycleSummary{UidValidity: session.UidValidity()},
		l:         l,
	}, nil
}

// RunCycle drives one full cycle for the mailbox and feeds every accepted
// message to the sink. Per-message failures, sink failures and finalization
// failures are logged and reflected in the summary only; a non-nil error
// means the cycle could not run at all and zero messages were processed.
func (e *Engine) RunCycle(ctx context.Context, cfg domain.MailboxConfig, sink domain.MessageSink) (domain.CycleSummary, error) {
	cycle, err := e.Start(ctx, cfg)
	if err != nil {
		return domain.CycleSummary{}, err
	}
	defer cycle.Close()

	for {
		message, ok := cycle.Next(ctx)
		if !ok {
			break
		}

		if sink == nil {
			continue
		}

		err := sink.Store(message, cfg.Name)
		if err != nil {
			e.l.WithFields(logrus.Fields{"mailbox": cfg.Name, "uid": message.Uid, "error": err}).Error("Could not store accepted message")
		}
	}

	err = cycle.Close()
	if err != nil {
		e.l.WithFields(logrus.Fields{"mailbox": cfg.Name, "error": err}).Warn("Cycle did not finalize cleanly")
	}

	return cycle.Summary(), nil
}

// filterBySize narrows the candidate set to messages at or under maxSize
// using a size probe. A probe failure logs and keeps the full set; selection
// is never denied because of a non-critical probe error.
func filterBySize(session domain.MailSession, uids []uint32, maxSize uint32, l logrus.FieldLogger) []uint32 {
	sizes, err := session.FetchSizes(uids)
	if err != nil {
		l.WithField("error", err).Warn("Could not probe message sizes, keeping full candidate set")
		return uids
	}

	filtered := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		size, known := sizes[uid]
		if known && size > maxSize {
			l.WithFields(logrus.Fields{"uid": uid, "size": size, "maxsize": maxSize}).Debug("Skipping oversized message")
			continue
		}
		filtered = append(filtered, uid)
	}

	return filtered
}
