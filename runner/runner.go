// SPDX-License-Identifier: GPL-3.0-or-later
package runner

import (
	"context"
	"time"

	"github.com/mailwatch/go-imap-ingest/domain"
	"github.com/mailwatch/go-imap-ingest/ingest"
	"github.com/mailwatch/go-imap-ingest/log"

	"github.com/sirupsen/logrus"
)

// Result of one mailbox's cycle within a pass.
type Result struct {
	Mailbox string
	Summary domain.CycleSummary
	Err     error
}

// Runner drives ingestion cycles for all configured mailboxes. Each mailbox
// gets its own session; no state is shared across mailbox boundaries except
// the sink and dedup store, which are safe for that.
type Runner struct {
	engine   *ingest.Engine
	sink     domain.MessageSink
	notifier domain.Notifier

	mailboxes   []domain.MailboxConfig
	concurrency int
	interval    time.Duration

	l logrus.FieldLogger
}

func New(engine *ingest.Engine, sink domain.MessageSink, notifier domain.Notifier, mailboxes []domain.MailboxConfig, concurrency int, interval time.Duration) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}

	return &Runner{
		engine:      engine,
		sink:        sink,
		notifier:    notifier,
		mailboxes:   mailboxes,
		concurrency: concurrency,
		interval:    interval,
		l:           log.Logger(log.LOG_RUNNER),
	}
}

// RunOnce processes every mailbox once, at most concurrency cycles in
// flight. A failing mailbox never affects the others.
func (r *Runner) RunOnce(ctx context.Context) []Result {
	semaphore := make(chan bool, r.concurrency)
	results := make([]Result, len(r.mailboxes))
	for i := range r.mailboxes {
		semaphore <- true
		go func(index int) {
			cfg := r.mailboxes[index]
			summary, err := r.engine.RunCycle(ctx, cfg, r.sink)
			results[index] = Result{Mailbox: cfg.Name, Summary: summary, Err: err}
			<-semaphore
		}(i)
	}

	for i := 0; i < r.concurrency; i++ {
		semaphore <- true
	}

	for _, result := range results {
		if result.Err != nil {
			r.l.WithFields(logrus.Fields{"mailbox": result.Mailbox, "error": result.Err}).Error("Mailbox cycle failed")
			continue
		}

		r.l.WithFields(logrus.Fields{
			"mailbox":    result.Mailbox,
			"yielded":    result.Summary.Yielded,
			"duplicates": result.Summary.SkippedDuplicate,
			"filtered":   result.Summary.SkippedByCondition,
			"parseerrs":  result.Summary.ParseErrors,
			"fetcherrs":  result.Summary.FetchErrors,
		}).Info("Mailbox cycle finished")

		if r.notifier != nil && result.Summary.Yielded > 0 {
			err := r.notifier.NotifyNewMail(ctx, result.Mailbox, result.Summary.Yielded)
			if err != nil {
				r.l.WithFields(logrus.Fields{"mailbox": result.Mailbox, "error": err}).Warn("Could not send notification")
			}
		}
	}

	return results
}

// Run executes one pass immediately and then repeats at the configured
// interval until the context is cancelled. A non-positive interval runs a
// single pass.
func (r *Runner) Run(ctx context.Context) {
	r.RunOnce(ctx)

	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.l.Info("Shutting down")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}
