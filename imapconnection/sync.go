// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/CrawX/go-mailsync/domain"
	"github.com/CrawX/go-mailsync/mail"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
)

const defaultFolder = "INBOX"

// folderSync tracks the position of a folder sync so it can resume after a
// reconnect.
type folderSync struct {
	folder    string
	batchSize int
	since     *time.Time

	uidValidity uint32
	total       int
	// seqNums holds the search result when the sync is narrowed by since.
	seqNums  []uint32
	searched bool

	lastSeq   uint32
	processed int
	failures  int
}

// nextWindow returns the sequence numbers of the next fetch, nil once the
// folder is exhausted. Windows stay aligned to multiples of batchSize, a
// resumed window only covers the rest of the interrupted one.
func (fs *folderSync) nextWindow() *imap.SeqSet {
	seqset := &imap.SeqSet{}

	if fs.since == nil {
		start := fs.lastSeq + 1
		if int(start) > fs.total {
			return nil
		}
		batch := uint32(fs.batchSize)
		end := ((start-1)/batch + 1) * batch
		if int(end) > fs.total {
			end = uint32(fs.total)
		}
		seqset.AddRange(start, end)
		return seqset
	}

	idx := sort.Search(len(fs.seqNums), func(i int) bool {
		return fs.seqNums[i] > fs.lastSeq
	})
	if idx >= len(fs.seqNums) {
		return nil
	}
	end := min((idx/fs.batchSize+1)*fs.batchSize, len(fs.seqNums))
	seqset.AddNum(fs.seqNums[idx:end]...)
	return seqset
}

func (fs *folderSync) progress(status domain.ProgressStatus, err error) domain.ProgressEvent {
	event := domain.ProgressEvent{
		Processed: fs.processed,
		Total:     fs.total,
		Folder:    fs.folder,
		Status:    status,
	}
	if err != nil {
		event.Error = err.Error()
	}
	return event
}

// SyncMessages streams the messages of every requested folder in sequence
// number order. Connection loss is recovered transparently, the folder is
// resumed after the last message handed out. Any other error ends the
// sequence after an error progress event.
func (h *ImapHandler) SyncMessages(ctx context.Context, options domain.SyncOptions) iter.Seq2[*domain.MailMessage, error] {
	options = options.WithDefaults([]string{defaultFolder}, h.options.BatchSize)

	return func(yield func(*domain.MailMessage, error) bool) {
		if !h.Connected() {
			yield(nil, domain.ErrNotConnected)
			return
		}

		for _, folder := range options.Folders {
			fs := &folderSync{
				folder:    folder,
				batchSize: options.BatchSize,
				since:     options.Since,
			}

			more, err := h.syncFolder(ctx, fs, yield)
			if err != nil {
				h.l.WithFields(logrus.Fields{"folder": folder, "processed": fs.processed, "error": err}).Error("Folder sync failed")
				h.notifier.Progress(fs.progress(domain.StatusError, err))
				yield(nil, err)
				return
			}
			if !more {
				return
			}
		}
	}
}

func (h *ImapHandler) syncFolder(ctx context.Context, fs *folderSync, yield func(*domain.MailMessage, error) bool) (bool, error) {
	if err := h.openFolder(ctx, fs); err != nil {
		return false, err
	}

	l := h.l.WithFields(logrus.Fields{"folder": fs.folder, "total": fs.total})
	l.Info("Syncing folder")
	h.notifier.Progress(fs.progress(domain.StatusSyncing, nil))

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		window := fs.nextWindow()
		if window == nil {
			break
		}

		reconnected, err := h.healthCheck(ctx)
		if err != nil {
			return false, err
		}
		if reconnected {
			if err := h.openFolder(ctx, fs); err != nil {
				return false, err
			}
			continue
		}

		before := fs.lastSeq
		start := time.Now()
		more, err := h.fetchWindow(ctx, fs, window, yield)
		if err == nil {
			l.WithFields(logrus.Fields{"window": window.String(), "duration": time.Since(start)}).Debug("Fetched window")
			if !more {
				return false, nil
			}
			continue
		}

		if !isConnectionError(err) {
			return false, fmt.Errorf("could not fetch %s from %s: %w", window, fs.folder, err)
		}

		if fs.lastSeq > before {
			fs.failures = 0
		}
		fs.failures++
		if fs.failures > h.options.MaxRetries {
			return false, &domain.RecoveryError{Attempts: fs.failures, Err: err}
		}

		l.WithFields(logrus.Fields{"error": err, "lastSeq": fs.lastSeq}).Warn("Connection lost during fetch, resuming")
		if err := h.reconnect(ctx, err); err != nil {
			return false, err
		}
		if err := h.openFolder(ctx, fs); err != nil {
			return false, err
		}
	}

	l.WithField("processed", fs.processed).Info("Folder synced")
	h.notifier.Progress(fs.progress(domain.StatusCompleted, nil))
	return true, nil
}

// openFolder selects the folder and determines what is left to fetch. A
// connection error is recovered with a reconnect, up to MaxRetries times.
func (h *ImapHandler) openFolder(ctx context.Context, fs *folderSync) error {
	for attempt := 0; ; attempt++ {
		err := h.selectFolder(ctx, fs)
		if err == nil {
			return nil
		}
		if !isConnectionError(err) || attempt >= h.options.MaxRetries {
			return err
		}
		if err := h.reconnect(ctx, err); err != nil {
			return err
		}
	}
}

func (h *ImapHandler) selectFolder(ctx context.Context, fs *folderSync) error {
	c := h.current()
	if c == nil {
		return domain.ErrNotConnected
	}

	status, err := domain.WithTimeout(ctx, h.options.CommandTimeout, "select", func(context.Context) (*imap.MailboxStatus, error) {
		return c.Select(fs.folder, true)
	})
	if err != nil {
		return fmt.Errorf("could not select folder %s: %w", fs.folder, err)
	}
	h.touch()

	if fs.uidValidity != 0 && status.UidValidity != fs.uidValidity {
		return fmt.Errorf("uidvalidity of %s changed from %d to %d", fs.folder, fs.uidValidity, status.UidValidity)
	}
	fs.uidValidity = status.UidValidity

	if fs.since == nil {
		fs.total = int(status.Messages)
		return nil
	}
	if fs.searched {
		return nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = *fs.since
	seqNums, err := domain.WithTimeout(ctx, h.options.CommandTimeout, "search", func(context.Context) ([]uint32, error) {
		return c.Search(criteria)
	})
	if err != nil {
		return fmt.Errorf("could not search folder %s: %w", fs.folder, err)
	}
	h.touch()

	sort.Slice(seqNums, func(i, j int) bool { return seqNums[i] < seqNums[j] })
	fs.seqNums = seqNums
	fs.searched = true
	fs.total = len(seqNums)

	return nil
}

// fetchWindow streams one window to the consumer. It returns false when the
// consumer stopped pulling.
func (h *ImapHandler) fetchWindow(ctx context.Context, fs *folderSync, window *imap.SeqSet, yield func(*domain.MailMessage, error) bool) (bool, error) {
	c := h.current()
	if c == nil {
		return false, domain.ErrNotConnected
	}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(window, h.fetchItems(), messages)
	}()

	stop := func() {
		for range messages {
		}
		<-done
	}

	for msg := range messages {
		h.touch()
		if msg.SeqNum <= fs.lastSeq {
			continue
		}
		if err := ctx.Err(); err != nil {
			stop()
			return false, err
		}

		m, err := toMailMessage(fs.folder, fs.uidValidity, msg)
		fs.lastSeq = msg.SeqNum
		fs.processed++

		if err != nil {
			h.l.WithFields(logrus.Fields{"folder": fs.folder, "seq": msg.SeqNum, "error": err}).Warn("Skipping message")
		} else if !yield(m, nil) {
			stop()
			return false, nil
		} else if h.l.IsLevelEnabled(logrus.TraceLevel) {
			h.l.WithFields(logrus.Fields{"folder": fs.folder, "subject": mail.ShortSubject(m.Subject)}).Trace("Synced message")
		}

		if fs.processed%h.options.ProgressInterval == 0 {
			h.notifier.Progress(fs.progress(domain.StatusSyncing, nil))
		}
		if fs.processed%h.options.CheckpointInterval == 0 && !sessionUsable(c) {
			stop()
			return true, &domain.ConnectionError{Op: "fetch", Err: errors.New("session no longer usable")}
		}
	}

	if err := <-done; err != nil {
		return true, err
	}
	return true, nil
}
