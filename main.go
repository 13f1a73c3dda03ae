// SPDX-License-Identifier: GPL-3.0-or-later
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mailwatch/go-imap-ingest/config"
	"github.com/mailwatch/go-imap-ingest/domain"
	"github.com/mailwatch/go-imap-ingest/ingest"
	"github.com/mailwatch/go-imap-ingest/log"
	"github.com/mailwatch/go-imap-ingest/notify"
	"github.com/mailwatch/go-imap-ingest/persistence"
	"github.com/mailwatch/go-imap-ingest/runner"

	"github.com/sirupsen/logrus"
)

func main() {
	log.InitLogging("debug")
	logger := log.Logger(log.LOG_MAIN)

	configFile := "config.toml"
	if len(os.Args) > 1 {
		configFile = os.Args[1]
	}

	conf, err := config.ReadConfig(configFile)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not load config")
	}

	if conf.Loglevel != nil {
		log.SetLogLevel(*conf.Loglevel)
	}

	store, err := persistence.NewStore(conf.Database)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not connect to database")
	}
	defer store.Close()

	var notifier domain.Notifier
	if len(conf.Notify.Url) > 0 {
		notifier = notify.NewClient(conf.Notify.Url, conf.Notify.Username, conf.Notify.Password)
		logger.WithField("url", conf.Notify.Url).Info("Notifications enabled")
	} else {
		logger.Info("No notification endpoint configured")
	}

	engine, err := ingest.NewEngine(store)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not start ingestion engine")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logrus.Fields{
		"mailboxes":   len(conf.Mailboxes),
		"concurrency": conf.Concurrency,
		"interval":    conf.Interval(),
	}).Info("Starting ingestion")

	runner.New(engine, store, notifier, conf.Mailboxes, conf.Concurrency, conf.Interval()).Run(ctx)
}
