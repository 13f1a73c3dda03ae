// SPDX-License-Identifier: GPL-3.0-or-later
package persistence

import (
	"testing"
	"time"

	"github.com/mailwatch/go-imap-ingest/domain"
	"github.com/mailwatch/go-imap-ingest/log"

	"github.com/stretchr/testify/assert"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	log.InitLogging("error")

	store, err := NewStore(":memory:")
	assert.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	return store
}

func testMessage(messageId string) *domain.ParsedMessage {
	return &domain.ParsedMessage{
		Uid:       42,
		MessageId: messageId,
		From:      "sender@example.org",
		Subject:   "Hello",
		Date:      time.Date(1997, 11, 21, 15, 55, 6, 0, time.UTC),
		Body:      "hello\n",
	}
}

func TestStore_ExistsScopedToMailbox(t *testing.T) {
	store := testStore(t)

	err := store.Store(testMessage("a@example.org"), "work")
	assert.NoError(t, err)

	exists, err := store.Exists("a@example.org", "work")
	assert.NoError(t, err)
	assert.True(t, exists)

	// The same Message-ID in another mailbox is legitimately new
	exists, err = store.Exists("a@example.org", "private")
	assert.NoError(t, err)
	assert.False(t, exists)

	exists, err = store.Exists("other@example.org", "work")
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_EmptyMessageIdNeverExists(t *testing.T) {
	store := testStore(t)

	err := store.Store(testMessage(""), "work")
	assert.NoError(t, err)

	exists, err := store.Exists("", "work")
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_CountMessages(t *testing.T) {
	store := testStore(t)

	assert.NoError(t, store.Store(testMessage("a@example.org"), "work"))
	assert.NoError(t, store.Store(testMessage("b@example.org"), "work"))
	assert.NoError(t, store.Store(testMessage("c@example.org"), "private"))

	count, err := store.CountMessages("work")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = store.CountMessages("empty")
	assert.NoError(t, err)
	assert.Equal(t, 0, count)
}
