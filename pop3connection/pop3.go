// SPDX-License-Identifier: GPL-3.0-or-later
package pop3connection

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/CrawX/go-mailsync/domain"
	"github.com/CrawX/go-mailsync/log"
	"github.com/CrawX/go-mailsync/mail"

	"github.com/knadh/go-pop3"
	"github.com/sirupsen/logrus"
)

// Inbox is the only folder a POP3 maildrop has.
const Inbox = "INBOX"

type Options struct {
	CommandTimeout time.Duration
	// ProgressInterval is the number of messages between progress events.
	ProgressInterval int
}

func DefaultOptions() Options {
	return Options{
		CommandTimeout:   60 * time.Second,
		ProgressInterval: 100,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = d.CommandTimeout
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = d.ProgressInterval
	}
	return o
}

// Pop3Handler downloads the maildrop of one POP3 account. There is no
// reconnection: a failed retrieval ends the sync.
type Pop3Handler struct {
	connector Connector
	options   Options

	mu     sync.Mutex
	client pop3Client

	notifier *domain.Notifier
	l        *logrus.Logger
}

func NewPop3Handler(connector Connector, options Options) *Pop3Handler {
	return &Pop3Handler{
		connector: connector,
		options:   options.withDefaults(),
		notifier:  &domain.Notifier{Protocol: domain.ProtocolPop3},
		l:         log.Logger(log.LOG_POP3),
	}
}

func (h *Pop3Handler) Protocol() domain.Protocol {
	return domain.ProtocolPop3
}

func (h *Pop3Handler) Subscribe(listener domain.Listener) func() {
	return h.notifier.Subscribe(listener)
}

func (h *Pop3Handler) Connected() bool {
	return h.current() != nil
}

func (h *Pop3Handler) TestConnection(ctx context.Context, credentials domain.Credentials) (bool, error) {
	passwordCredentials, ok := credentials.(domain.PasswordCredentials)
	if !ok {
		return false, fmt.Errorf("pop3 needs password credentials, got %T", credentials)
	}

	if h.Connected() {
		h.Disconnect()
	}

	l := h.l.WithFields(logrus.Fields{"host": passwordCredentials.Host, "user": passwordCredentials.Username})
	c, err := h.connector(ctx, passwordCredentials)
	if err != nil {
		l.WithField("error", err).Warn("Could not connect")
		return false, err
	}

	h.mu.Lock()
	h.client = c
	h.mu.Unlock()
	h.notifier.Connected()

	l.Debug("Logged in to server")
	return true, nil
}

// Disconnect sends QUIT and forgets the session. Without DELE commands QUIT
// leaves the maildrop untouched.
func (h *Pop3Handler) Disconnect() error {
	h.mu.Lock()
	c := h.client
	h.client = nil
	h.mu.Unlock()

	if c == nil {
		return nil
	}

	_, err := domain.WithTimeout(context.Background(), h.options.CommandTimeout, "quit", func(context.Context) (struct{}, error) {
		return struct{}{}, c.Quit()
	})
	if err != nil {
		h.l.WithField("error", err).Debug("Quit failed")
	}

	h.notifier.Disconnected()
	return nil
}

func (h *Pop3Handler) current() pop3Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.client
}

func (h *Pop3Handler) connectedClient() (pop3Client, error) {
	c := h.current()
	if c == nil {
		return nil, domain.ErrNotConnected
	}
	return c, nil
}

func (h *Pop3Handler) GetFolders(ctx context.Context) ([]*domain.MailFolder, error) {
	c, err := h.connectedClient()
	if err != nil {
		return nil, err
	}

	count, err := domain.WithTimeout(ctx, h.options.CommandTimeout, "stat", func(context.Context) (int, error) {
		count, _, err := c.Stat()
		return count, err
	})
	if err != nil {
		return nil, fmt.Errorf("could not stat maildrop: %w", err)
	}

	return domain.NormalizeFolders([]*domain.MailFolder{{
		Name:       Inbox,
		Path:       Inbox,
		SpecialUse: []domain.SpecialUse{domain.SpecialUseInbox},
		Messages:   uint32(count),
	}}), nil
}

// entry is one message of the maildrop listing.
type entry struct {
	number int
	id     string
}

// listing enumerates the maildrop with LIST and assigns ids from UIDL. When
// the server has no UIDL the message number is the id.
func (h *Pop3Handler) listing(ctx context.Context, c pop3Client) ([]entry, error) {
	list, err := domain.WithTimeout(ctx, h.options.CommandTimeout, "list", func(context.Context) ([]pop3.MessageID, error) {
		return c.List(0)
	})
	if err != nil {
		return nil, fmt.Errorf("could not list messages: %w", err)
	}

	uids := map[int]string{}
	uidl, err := domain.WithTimeout(ctx, h.options.CommandTimeout, "uidl", func(context.Context) ([]pop3.MessageID, error) {
		return c.Uidl(0)
	})
	if err != nil {
		if isConnectionError(err) {
			return nil, fmt.Errorf("could not list unique ids: %w", err)
		}
		h.l.WithField("error", err).Debug("UIDL not supported, using message numbers")
	}
	for _, u := range uidl {
		uids[u.ID] = u.UID
	}

	entries := make([]entry, 0, len(list))
	for _, m := range list {
		id, ok := uids[m.ID]
		if !ok || id == "" {
			id = strconv.Itoa(m.ID)
		}
		entries = append(entries, entry{number: m.ID, id: id})
	}

	return entries, nil
}

func (h *Pop3Handler) SyncMessages(ctx context.Context, options domain.SyncOptions) iter.Seq2[*domain.MailMessage, error] {
	options = options.WithDefaults([]string{Inbox}, 0)

	return func(yield func(*domain.MailMessage, error) bool) {
		c, err := h.connectedClient()
		if err != nil {
			yield(nil, err)
			return
		}

		if !wantsInbox(options.Folders) {
			h.l.WithField("folders", options.Folders).Info("POP3 only has an INBOX, nothing to sync")
			return
		}

		entries, err := h.listing(ctx, c)
		if err != nil {
			h.notifier.Progress(domain.ProgressEvent{Folder: Inbox, Status: domain.StatusError, Error: err.Error()})
			yield(nil, err)
			return
		}

		h.syncInbox(ctx, c, entries, options.Since, yield)
	}
}

func wantsInbox(folders []string) bool {
	for _, f := range folders {
		if strings.EqualFold(f, Inbox) {
			return true
		}
	}
	return false
}

func (h *Pop3Handler) syncInbox(ctx context.Context, c pop3Client, entries []entry, since *time.Time, yield func(*domain.MailMessage, error) bool) {
	total := len(entries)
	processed := 0
	seen := map[int]bool{}
	l := h.l.WithField("total", total)

	h.notifier.Progress(domain.ProgressEvent{Total: total, Folder: Inbox, Status: domain.StatusSyncing})

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		if seen[e.number] {
			continue
		}

		m, err := h.retrieve(ctx, c, e)
		if err != nil && !domain.IsParseError(err) {
			err = fmt.Errorf("could not retrieve message %d: %w", e.number, err)
			l.WithFields(logrus.Fields{"message": e.number, "error": err}).Error("Aborting sync")
			h.notifier.Progress(domain.ProgressEvent{Processed: processed, Total: total, Folder: Inbox, Status: domain.StatusError, Error: err.Error()})
			yield(nil, err)
			return
		}

		seen[e.number] = true
		processed++

		if err != nil {
			l.WithFields(logrus.Fields{"message": e.number, "error": err}).Warn("Skipping unparseable message")
		} else if since == nil || !m.Date.Before(*since) {
			if !yield(m, nil) {
				return
			}
		}

		if processed%h.options.ProgressInterval == 0 {
			h.notifier.Progress(domain.ProgressEvent{Processed: processed, Total: total, Folder: Inbox, Status: domain.StatusSyncing})
		}
	}

	h.notifier.Progress(domain.ProgressEvent{Processed: processed, Total: total, Folder: Inbox, Status: domain.StatusCompleted})
}

func (h *Pop3Handler) retrieve(ctx context.Context, c pop3Client, e entry) (*domain.MailMessage, error) {
	raw, err := domain.WithTimeout(ctx, h.options.CommandTimeout, "retr", func(context.Context) ([]byte, error) {
		b, err := c.RetrRaw(e.number)
		if err != nil {
			return nil, err
		}
		return b.Bytes(), nil
	})
	if err != nil {
		return nil, err
	}

	m, err := mail.Parse(raw)
	if err != nil {
		return nil, &domain.ParseError{Id: e.id, Err: err}
	}
	m.Id = e.id
	m.Folder = Inbox
	m.Flags = []string{}

	return m, nil
}

// GetMessage resolves id against the current listing, message numbers shift
// between sessions but UIDL ids don't.
func (h *Pop3Handler) GetMessage(ctx context.Context, id string) (*domain.MailMessage, error) {
	c, err := h.connectedClient()
	if err != nil {
		return nil, err
	}

	entries, err := h.listing(ctx, c)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if e.id == id {
			m, err := h.retrieve(ctx, c, e)
			if err != nil && !domain.IsParseError(err) {
				return nil, fmt.Errorf("could not retrieve message %d: %w", e.number, err)
			}
			return m, err
		}
	}

	return nil, &domain.NotFoundError{Id: id}
}
