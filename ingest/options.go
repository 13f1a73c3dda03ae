// SPDX-License-Identifier: GPL-3.0-or-later
package ingest

import (
	"fmt"

	"github.com/mailwatch/go-imap-ingest/domain"

	"github.com/sirupsen/logrus"
)

type ConfigFunc func(e *Engine) error

// WithDialer replaces how sessions are opened. Tests and alternative
// transports inject their session factory here; there is no other way to
// swap the connection behaviour.
func WithDialer(dial Dialer) ConfigFunc {
	return func(e *Engine) error {
		if dial == nil {
			return fmt.Errorf("dialer cannot be nil")
		}

		e.dial = dial
		return nil
	}
}

// WithCondition installs a predicate consulted after parsing; messages it
// rejects are counted as skipped-by-condition and receive no retention
// effect.
func WithCondition(condition func(*domain.ParsedMessage) bool) ConfigFunc {
	return func(e *Engine) error {
		if condition == nil {
			return fmt.Errorf("condition cannot be nil")
		}

		e.condition = condition
		return nil
	}
}

// WithLogger replaces the engine's diagnostic sink.
func WithLogger(l logrus.FieldLogger) ConfigFunc {
	return func(e *Engine) error {
		if l == nil {
			return fmt.Errorf("logger cannot be nil")
		}

		e.l = l
		return nil
	}
}
