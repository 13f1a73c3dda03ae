// SPDX-License-Identifier: GPL-3.0-or-later
package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/mailwatch/go-imap-ingest/domain"
	"github.com/mailwatch/go-imap-ingest/log"

	"github.com/stretchr/testify/assert"
)

const TEST_MAILBOX = "testbox"

func init() {
	log.InitLogging("error")
}

func testConfig(policy domain.RetentionPolicy) domain.MailboxConfig {
	return domain.MailboxConfig{
		Name:      TEST_MAILBOX,
		Host:      "imap.example.org:993",
		User:      "user",
		Password:  "secret",
		Folder:    "INBOX",
		Retention: policy,
	}
}

func testEngine(t *testing.T, session *fakeSession, dedup *fakeDedup, configFunc ...ConfigFunc) *Engine {
	t.Helper()

	if dedup == nil {
		dedup = &fakeDedup{}
	}

	configFunc = append(configFunc, WithDialer(func(cfg domain.MailboxConfig) (domain.MailSession, error) {
		return session, nil
	}))

	engine, err := NewEngine(dedup, configFunc...)
	assert.NoError(t, err)
	return engine
}

func TestNewEngine(t *testing.T) {
	tests := []struct {
		name string
		cfgs []ConfigFunc
		err  string
	}{
		{"ok", []ConfigFunc{}, ""},
		{"nil dialer", []ConfigFunc{WithDialer(nil)}, "error applying configuration: dialer cannot be nil"},
		{"nil condition", []ConfigFunc{WithCondition(nil)}, "error applying configuration: condition cannot be nil"},
		{"nil logger", []ConfigFunc{WithLogger(nil)}, "error applying configuration: logger cannot be nil"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine, err := NewEngine(&fakeDedup{}, tc.cfgs...)
			if len(tc.err) == 0 {
				assert.NotNil(t, engine)
				assert.NoError(t, err)
			} else {
				assert.Nil(t, engine)
				assert.EqualError(t, err, tc.err)
			}
		})
	}
}

func TestEngine_StartConnectionError(t *testing.T) {
	engine, err := NewEngine(&fakeDedup{}, WithDialer(func(cfg domain.MailboxConfig) (domain.MailSession, error) {
		return nil, errors.New("dial failed")
	}))
	assert.NoError(t, err)

	cycle, err := engine.Start(context.Background(), testConfig(domain.FetchUnseenPeekOnly))
	assert.Nil(t, cycle)
	assert.True(t, domain.IsKind(err, domain.ConnectionError))
	assert.Contains(t, err.Error(), TEST_MAILBOX)
}

func TestEngine_StartSelectionError(t *testing.T) {
	session := newFakeSession()
	session.searchErr = errors.New("search failed")
	engine := testEngine(t, session, nil)

	cycle, err := engine.Start(context.Background(), testConfig(domain.FetchUnseenPeekOnly))
	assert.Nil(t, cycle)
	assert.True(t, domain.IsKind(err, domain.SelectionError))
	assert.Equal(t, 1, session.closed)
}

func TestEngine_StartInvalidPolicy(t *testing.T) {
	engine := testEngine(t, newFakeSession(), nil)

	cycle, err := engine.Start(context.Background(), testConfig(domain.RetentionPolicy("bogus")))
	assert.Nil(t, cycle)
	assert.EqualError(t, err, `unknown retention policy "bogus" for mailbox testbox`)
}

func TestEngine_StartExpungeNotReady(t *testing.T) {
	session := newFakeSession()
	session.uids = u32a(1)
	session.notReadyReason = errors.New("folder has previous items with delete flag set")
	engine := testEngine(t, session, nil)

	cycle, err := engine.Start(context.Background(), testConfig(domain.DeleteAfterProcessing))
	assert.Nil(t, cycle)
	assert.True(t, domain.IsKind(err, domain.RetentionError))
	assert.Equal(t, 1, session.closed)
}

func TestEngine_StartCancelledContext(t *testing.T) {
	session := newFakeSession()
	engine := testEngine(t, session, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cycle, err := engine.Start(ctx, testConfig(domain.FetchUnseenPeekOnly))
	assert.Nil(t, cycle)
	assert.True(t, domain.IsKind(err, domain.ConnectionError))
	assert.Equal(t, 1, session.closed)
}

func TestEngine_SizeFilter(t *testing.T) {
	session := newFakeSession()
	session.unseen = u32a(1, 2, 3)
	session.sizes = map[uint32]uint32{1: 50, 2: 500}
	session.messages[1] = rawMessage("a@x", "A")
	session.messages[3] = rawMessage("c@x", "C")
	engine := testEngine(t, session, nil)

	cfg := testConfig(domain.FetchUnseenPeekOnly)
	cfg.MaxSize = 100

	cycle, err := engine.Start(context.Background(), cfg)
	assert.NoError(t, err)
	defer cycle.Close()

	// Oversized uid 2 is dropped, uid 3 without a probed size stays in
	assert.Equal(t, u32a(1, 3), cycle.handles)
}

func TestEngine_SizeFilterProbeFailure(t *testing.T) {
	session := newFakeSession()
	session.unseen = u32a(1, 2)
	session.sizesErr = errors.New("probe failed")
	engine := testEngine(t, session, nil)

	cfg := testConfig(domain.FetchUnseenPeekOnly)
	cfg.MaxSize = 100

	cycle, err := engine.Start(context.Background(), cfg)
	assert.NoError(t, err)
	defer cycle.Close()

	// A failed probe keeps the full candidate set
	assert.Equal(t, u32a(1, 2), cycle.handles)
}

func TestEngine_RunCycleStoresYieldedMessages(t *testing.T) {
	session := newFakeSession()
	session.unseen = u32a(1, 2)
	session.messages[1] = rawMessage("a@x", "A")
	session.messages[2] = rawMessage("b@x", "B")
	engine := testEngine(t, session, nil)
	sink := &fakeSink{}

	summary, err := engine.RunCycle(context.Background(), testConfig(domain.FetchUnseenPeekOnly), sink)
	assert.NoError(t, err)
	assert.Equal(t, 2, summary.Yielded)
	assert.Len(t, sink.stored, 2)
	assert.Equal(t, TEST_MAILBOX, sink.stored[0].mailbox)
	assert.Equal(t, "a@x", sink.stored[0].message.MessageId)
	assert.Equal(t, "b@x", sink.stored[1].message.MessageId)
	assert.Equal(t, 1, session.closed)
}

func TestEngine_RunCycleSinkFailureContinues(t *testing.T) {
	session := newFakeSession()
	session.unseen = u32a(1, 2)
	session.messages[1] = rawMessage("a@x", "A")
	session.messages[2] = rawMessage("b@x", "B")
	engine := testEngine(t, session, nil)
	sink := &fakeSink{err: errors.New("db full")}

	summary, err := engine.RunCycle(context.Background(), testConfig(domain.FetchUnseenPeekOnly), sink)
	assert.NoError(t, err)
	assert.Equal(t, 2, summary.Yielded)
	assert.Len(t, sink.stored, 2)
}

func TestEngine_RunCycleConnectionFailure(t *testing.T) {
	engine, err := NewEngine(&fakeDedup{}, WithDialer(func(cfg domain.MailboxConfig) (domain.MailSession, error) {
		return nil, errors.New("dial failed")
	}))
	assert.NoError(t, err)

	summary, err := engine.RunCycle(context.Background(), testConfig(domain.FetchUnseenPeekOnly), &fakeSink{})
	assert.True(t, domain.IsKind(err, domain.ConnectionError))
	assert.Equal(t, domain.CycleSummary{}, summary)
}
