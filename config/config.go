// SPDX-License-Identifier: GPL-3.0-or-later
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mailwatch/go-imap-ingest/domain"

	"github.com/BurntSushi/toml"
)

type Notify struct {
	Url      string
	Username string
	Password string
}

type Config struct {
	Database string

	// Concurrency bounds how many mailbox cycles run at the same time so a
	// multi-mailbox run does not overwhelm mail servers.
	Concurrency int

	// PollInterval is the scheduler period as a duration string. "0" runs a
	// single pass and exits.
	PollInterval string

	Notify Notify

	Mailboxes []domain.MailboxConfig

	Loglevel *string
}

func ReadConfig(filename string) (*Config, error) {
	config := &Config{
		Database:     "messages.db",
		Concurrency:  4,
		PollInterval: "5m",
	}

	_, err := toml.DecodeFile(filename, config)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}

	err = config.validate()
	if err != nil {
		return nil, err
	}

	return config, nil
}

// Interval returns the parsed poll interval. Zero means run once.
func (c *Config) Interval() time.Duration {
	d, _ := time.ParseDuration(c.PollInterval)
	return d
}

func (c *Config) validate() error {
	if err := validateNonEmptyStringField(c.Database, "Database name must not be empty, set to a filename for the sqlite database"); err != nil {
		return err
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("Concurrency must be at least 1, got %d", c.Concurrency)
	}

	if _, err := time.ParseDuration(c.PollInterval); err != nil {
		return fmt.Errorf(`PollInterval %q is not a valid duration: %w`, c.PollInterval, err)
	}

	if len(c.Mailboxes) == 0 {
		return errors.New("at least one [[Mailboxes]] entry must be configured")
	}

	seen := map[string]bool{}
	for i := range c.Mailboxes {
		m := &c.Mailboxes[i]
		if err := validateMailbox(m); err != nil {
			return err
		}

		if seen[m.Name] {
			return fmt.Errorf("mailbox name %q is configured twice, names scope dedup and must be unique", m.Name)
		}
		seen[m.Name] = true
	}

	if len(strings.TrimSpace(c.Notify.Url)) > 0 {
		if err := validateNonEmptyStringField(c.Notify.Username, "Notify.Username must be set if Notify.Url is set"); err != nil {
			return err
		}
		if err := validateNonEmptyStringField(c.Notify.Password, "Notify.Password must be set if Notify.Url is set"); err != nil {
			return err
		}
	}

	return nil
}

func validateMailbox(m *domain.MailboxConfig) error {
	if err := validateNonEmptyStringField(m.Name, "mailbox Name must not be empty, it identifies the mailbox in logs and dedup records"); err != nil {
		return err
	}

	if err := validateNonEmptyStringField(m.Host, fmt.Sprintf("Host of mailbox %q must not be empty, set to host:port of the imap server", m.Name)); err != nil {
		return err
	}

	if err := validateNonEmptyStringField(m.User, fmt.Sprintf("User of mailbox %q must not be empty", m.Name)); err != nil {
		return err
	}

	if err := validateNonEmptyStringField(m.Password, fmt.Sprintf("Password of mailbox %q must not be empty", m.Name)); err != nil {
		return err
	}

	if m.TLS && m.StartTLS {
		return fmt.Errorf("mailbox %q: TLS and StartTLS cannot be set at the same time", m.Name)
	}

	if !m.Retention.Valid() {
		return fmt.Errorf("mailbox %q: Retention %q is unknown, use one of delete, mark-seen, unseen-mark-seen, unseen-peek", m.Name, m.Retention)
	}

	if len(m.Folder) == 0 {
		m.Folder = "INBOX"
	}

	return nil
}

func validateNonEmptyStringField(field string, err string) error {
	if len(strings.TrimSpace(field)) == 0 {
		return errors.New(err)
	}

	return nil
}
