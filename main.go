// SPDX-License-Identifier: GPL-3.0-or-later
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/CrawX/go-mailsync/config"
	"github.com/CrawX/go-mailsync/domain"
	"github.com/CrawX/go-mailsync/handlers"
	"github.com/CrawX/go-mailsync/log"
	"github.com/CrawX/go-mailsync/mailsync"
	"github.com/CrawX/go-mailsync/persistence"

	"github.com/sirupsen/logrus"
)

func main() {
	log.InitLogging("debug")
	logger := log.Logger(log.LOG_MAIN)

	conf, err := config.ReadConfig("config.toml")
	if err != nil {
		logger.WithField("error", err).Fatal("Could not load config")
	}

	if conf.Loglevel != nil {
		log.SetLogLevel(*conf.Loglevel)
	}

	configs := []mailsync.ConfigFunc{
		mailsync.Folders(conf.Sync.Folders...),
		mailsync.ProgressListener(func(e domain.Event) {
			switch e.Kind {
			case domain.EventProgress:
				fields := logrus.Fields{"folder": e.Progress.Folder, "status": e.Progress.Status, "processed": e.Progress.Processed, "total": e.Progress.Total}
				if e.Progress.Error != "" {
					fields["error"] = e.Progress.Error
				}
				logger.WithFields(fields).Info("Progress")
			default:
				logger.WithField("protocol", e.Protocol).Info("Handler " + e.Kind.String())
			}
		}),
	}
	if conf.Sync.Since != nil {
		configs = append(configs, mailsync.Since(*conf.Sync.Since))
	}
	if conf.Sync.BatchSize > 0 {
		configs = append(configs, mailsync.BatchSize(conf.Sync.BatchSize))
	}

	var p domain.Persistence
	if conf.DryRun {
		configs = append(configs, mailsync.DryRun())
	} else {
		db, err := persistence.NewPersistence(conf.Database)
		if err != nil {
			logger.WithField("error", err).Fatal("Could not connect to database")
		}
		defer db.Close()
		p = db
	}

	factory := func(protocolID string) (domain.Handler, error) {
		return handlers.Create(
			protocolID,
			handlers.WithProxy(conf.ProxyConfig()),
			handlers.WithOAuth(conf.OAuthConfig()),
			handlers.WithIMAPOptions(conf.ImapOptions()),
			handlers.WithHTTPTimeout(conf.HttpTimeout),
		)
	}

	runner, err := mailsync.NewRunner(p, factory, configs...)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not start sync")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	account := mailsync.Account{
		Id:          conf.AccountId(),
		Protocol:    conf.Protocol,
		Credentials: conf.Credentials(),
	}

	logger.WithFields(logrus.Fields{"account": account.Id, "protocol": account.Protocol, "folders": conf.Sync.Folders, "dryrun": conf.DryRun}).Info("Syncing mailbox")
	summary, err := runner.Run(ctx, account)
	if err != nil {
		logger.WithField("error", err).Fatal("Sync failed")
	}

	logger.WithFields(logrus.Fields{
		"folders":      summary.Folders,
		"messages":     summary.Messages,
		"errors":       summary.Errors,
		"addresses":    len(summary.Addresses),
		"newaddresses": summary.NewAddresses,
	}).Info("Sync finished")
}
