// SPDX-License-Identifier: GPL-3.0-or-later
package mailsync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/CrawX/go-mailsync/discovery"
	"github.com/CrawX/go-mailsync/domain"
	"github.com/CrawX/go-mailsync/log"

	"github.com/sirupsen/logrus"
)

var DefaultFolders = []string{"INBOX"}

// Factory creates an unconnected handler for a protocol id, handlers.Create
// without options fits.
type Factory func(protocolID string) (domain.Handler, error)

type Account struct {
	// Id keys checkpoints and addresses, usually the mail address.
	Id          string
	Protocol    string
	Credentials domain.Credentials
}

type Summary struct {
	Folders      int
	Messages     int
	Errors       int
	Addresses    []string
	NewAddresses int
}

// Runner syncs one account at a time: it connects, streams the configured
// folders and records what it found.
type Runner struct {
	persistence domain.Persistence
	factory     Factory

	configuration *configuration
	now           func() time.Time

	l *logrus.Logger
}

func NewRunner(persistence domain.Persistence, factory Factory, configFunc ...ConfigFunc) (*Runner, error) {
	config := &configuration{}
	for _, f := range configFunc {
		err := f(config)
		if err != nil {
			return nil, fmt.Errorf("error applying configuration: %w", err)
		}
	}
	if persistence == nil && !config.DryRun {
		return nil, errors.New("persistence is required unless running dry")
	}

	return &Runner{
		persistence:   persistence,
		factory:       factory,
		configuration: config,
		now:           time.Now,
		l:             log.Logger(log.LOG_SYNC),
	}, nil
}

type checkpointKey struct {
	protocol domain.Protocol
	folder   string
}

func (r *Runner) Run(ctx context.Context, account Account) (*Summary, error) {
	h, err := r.factory(account.Protocol)
	if err != nil {
		return nil, fmt.Errorf("could not create handler: %w", err)
	}
	defer h.Disconnect()

	if r.configuration.Listener != nil {
		unsubscribe := h.Subscribe(r.configuration.Listener)
		defer unsubscribe()
	}

	l := r.l.WithFields(logrus.Fields{"account": account.Id, "protocol": h.Protocol()})

	ok, err := h.TestConnection(ctx, account.Credentials)
	if err != nil {
		return nil, fmt.Errorf("could not connect: %w", err)
	}
	if !ok {
		return nil, errors.New("could not connect")
	}
	l.Info("Connected")

	folders, err := h.GetFolders(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list folders: %w", err)
	}
	for _, f := range folders {
		l.WithFields(logrus.Fields{"folder": f.Path, "messages": f.Messages, "unseen": f.Unseen, "specialUse": f.SpecialUse}).Debug("Found folder")
	}

	checkpoints := map[checkpointKey]*domain.Checkpoint{}
	if !r.configuration.DryRun {
		saved, err := r.persistence.Checkpoints(account.Id)
		if err != nil {
			return nil, fmt.Errorf("could not load checkpoints: %w", err)
		}
		for _, c := range saved {
			checkpoints[checkpointKey{c.Protocol, c.Folder}] = c
		}
	}

	syncFolders := r.configuration.Folders
	if len(syncFolders) == 0 {
		syncFolders = DefaultFolders
	}

	summary := &Summary{}
	collector := discovery.NewCollector()
	synced := []domain.Checkpoint{}

	for _, folder := range syncFolders {
		since := r.configuration.Since
		if c, ok := checkpoints[checkpointKey{h.Protocol(), folder}]; ok && since == nil {
			since = &c.LastSynced
		}

		started := r.now()
		count, failed, err := r.syncFolder(ctx, h, folder, since, collector)
		summary.Messages += count
		if failed {
			summary.Errors++
		}
		if err != nil {
			return nil, err
		}

		summary.Folders++
		fl := l.WithFields(logrus.Fields{"folder": folder, "messages": count})
		if failed {
			fl.Warn("Folder not synced completely, keeping checkpoint")
			continue
		}
		fl.Info("Synced folder")

		synced = append(synced, domain.Checkpoint{
			Account:    account.Id,
			Protocol:   h.Protocol(),
			Folder:     folder,
			LastSynced: started,
			Messages:   count,
		})
	}

	summary.Addresses = collector.Addresses()

	if r.configuration.DryRun {
		l.WithField("addresses", len(summary.Addresses)).Info("Dry run, not persisting")
		return summary, nil
	}

	if len(synced) > 0 {
		if err := r.persistence.SaveCheckpoints(synced); err != nil {
			return nil, fmt.Errorf("could not save checkpoints: %w", err)
		}
	}
	if len(summary.Addresses) > 0 {
		summary.NewAddresses, err = r.persistence.SaveAddresses(account.Id, summary.Addresses)
		if err != nil {
			return nil, fmt.Errorf("could not save addresses: %w", err)
		}
	}

	return summary, nil
}

// syncFolder drains the messages of one folder. Errors yielded by the
// handler mark the folder failed, so does a progress event carrying an error,
// which is how handlers report a folder they could only read partially. Only
// authentication failures and a failing message callback end the run.
func (r *Runner) syncFolder(ctx context.Context, h domain.Handler, folder string, since *time.Time, collector *discovery.Collector) (int, bool, error) {
	options := domain.SyncOptions{
		Folders:   []string{folder},
		Since:     since,
		BatchSize: r.configuration.BatchSize,
	}

	var partial atomic.Bool
	unsubscribe := h.Subscribe(func(e domain.Event) {
		if e.Kind == domain.EventProgress && (e.Progress.Status == domain.StatusError || e.Progress.Error != "") {
			partial.Store(true)
		}
	})
	defer unsubscribe()

	count, failed := 0, false
	for m, err := range h.SyncMessages(ctx, options) {
		if err != nil {
			failed = true
			r.l.WithFields(logrus.Fields{"folder": folder, "error": err}).Warn("Sync error")
			if domain.IsAuthError(err) || domain.IsRecoveryError(err) {
				return count, failed, fmt.Errorf("could not sync folder %s: %w", folder, err)
			}
			continue
		}

		count++
		collector.Observe(m)
		if r.configuration.OnMessage != nil {
			if err := r.configuration.OnMessage(m); err != nil {
				return count, failed, fmt.Errorf("could not handle message %s: %w", m.Id, err)
			}
		}
	}

	if partial.Load() && !failed {
		r.l.WithField("folder", folder).Warn("Folder reported as partially synced")
		failed = true
	}

	return count, failed, nil
}
