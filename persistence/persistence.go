// SPDX-License-Identifier: GPL-3.0-or-later
package persistence

import (
	"fmt"
	"time"

	"github.com/mailwatch/go-imap-ingest/domain"
	"github.com/mailwatch/go-imap-ingest/log"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
)

// Store persists accepted messages and answers the engine's dedup queries.
// It implements domain.MessageSink and domain.DedupFilter and is safe for
// concurrent cycles; sqlite serializes writers through the single connection.
type Store struct {
	db *sqlx.DB
	l  *logrus.Logger
}

var migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "001_create_messages",
			Up: []string{
				`CREATE TABLE messages (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					mailbox TEXT NOT NULL,
					uid INTEGER NOT NULL,
					messageid TEXT NOT NULL,
					fromaddr TEXT NOT NULL,
					subject TEXT NOT NULL,
					date DATETIME,
					body TEXT NOT NULL,
					receivedat DATETIME NOT NULL
				)`,
				`CREATE UNIQUE INDEX messages_mailbox_messageid ON messages (mailbox, messageid) WHERE messageid != ''`,
			},
			Down: []string{
				`DROP TABLE messages`,
			},
		},
	},
}

func NewStore(datasource string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", datasource)
	if err != nil {
		return nil, fmt.Errorf("could not open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	l := log.Logger(log.LOG_PERSISTENCE)
	l.WithField("file", datasource).Info("Connected")

	_, err = db.Exec(`PRAGMA journal_mode=WAL`)
	if err != nil {
		return nil, fmt.Errorf("could not set journal mode: %w", err)
	}
	_, err = db.Exec(`PRAGMA synchronous=normal`)
	if err != nil {
		return nil, fmt.Errorf("could not set synchronous mode: %w", err)
	}

	appliedMigrations, err := migrate.Exec(db.DB, "sqlite3", migrations, migrate.Up)
	if err != nil {
		return nil, fmt.Errorf("could not migrate to newest version: %w", err)
	}

	l.WithField("migrations", appliedMigrations).Debug("Executed migrations")

	return &Store{
		db: db,
		l:  l,
	}, nil
}

func (s *Store) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("could not close db: %w", err)
	}
	s.l.Info("Disconnected")
	return nil
}

// Exists reports whether a message with this Message-ID has already been
// stored for the mailbox. Lookups are scoped per mailbox: two mailboxes may
// store messages sharing a Message-ID.
func (s *Store) Exists(messageId string, mailbox string) (bool, error) {
	if len(messageId) == 0 {
		return false, nil
	}

	count := 0
	err := s.db.Get(
		&count,
		`SELECT count(1) from messages WHERE mailbox = ? AND messageid = ?`,
		mailbox,
		messageId,
	)
	if err != nil {
		return false, fmt.Errorf("could not query db: %w", err)
	}

	return count > 0, nil
}

// Store saves one accepted message for the mailbox.
func (s *Store) Store(message *domain.ParsedMessage, mailbox string) error {
	_, err := s.db.Exec(
		`INSERT INTO messages(mailbox, uid, messageid, fromaddr, subject, date, body, receivedat) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		mailbox,
		message.Uid,
		message.MessageId,
		message.From,
		message.Subject,
		message.Date,
		message.Body,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("could not save message: %w", err)
	}

	s.l.WithFields(logrus.Fields{"mailbox": mailbox, "uid": message.Uid, "messageid": message.MessageId}).Debug("Persisted message")
	return nil
}

// CountMessages returns how many messages have been stored for the mailbox.
func (s *Store) CountMessages(mailbox string) (int, error) {
	count := 0
	err := s.db.Get(
		&count,
		`SELECT count(1) from messages WHERE mailbox = ?`,
		mailbox,
	)
	if err != nil {
		return 0, fmt.Errorf("could not query db: %w", err)
	}

	return count, nil
}
