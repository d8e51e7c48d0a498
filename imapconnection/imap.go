// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CrawX/go-mailsync/domain"
	"github.com/CrawX/go-mailsync/log"
	"github.com/CrawX/go-mailsync/throttle"

	"github.com/sirupsen/logrus"
)

type State int

const (
	StateDisconnected = State(iota)
	StateConnecting
	StateConnected
	StateDegraded
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

type Options struct {
	// BatchSize is the default fetch window when the sync options set none.
	BatchSize int
	// StatusChunkSize folders get their STATUS requested concurrently,
	// chunks are StatusChunkDelay apart.
	StatusChunkSize  int
	StatusChunkDelay time.Duration
	// ProgressInterval is the number of messages between progress events.
	ProgressInterval int
	// CheckpointInterval is the number of messages between session checks.
	CheckpointInterval int
	// QuietPeriod without I/O after which a NOOP checks the session.
	QuietPeriod    time.Duration
	MaxRetries     int
	CommandTimeout time.Duration
	Compress       bool

	// SkipBodies fetches envelopes only.
	SkipBodies bool
}

func DefaultOptions() Options {
	return Options{
		BatchSize:          1000,
		StatusChunkSize:    10,
		StatusChunkDelay:   100 * time.Millisecond,
		ProgressInterval:   100,
		CheckpointInterval: 100,
		QuietPeriod:        30 * time.Second,
		MaxRetries:         3,
		CommandTimeout:     60 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.StatusChunkSize <= 0 {
		o.StatusChunkSize = d.StatusChunkSize
	}
	if o.StatusChunkDelay <= 0 {
		o.StatusChunkDelay = d.StatusChunkDelay
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = d.ProgressInterval
	}
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = d.CheckpointInterval
	}
	if o.QuietPeriod <= 0 {
		o.QuietPeriod = d.QuietPeriod
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = d.CommandTimeout
	}
	return o
}

// ImapHandler syncs a mailbox over IMAP. The session survives connection
// loss: credentials are kept after the first successful login and used to
// reconnect with exponential backoff.
type ImapHandler struct {
	connector Connector
	options   Options

	mu                sync.Mutex
	client            imapClient
	credentials       *domain.PasswordCredentials
	state             State
	lastIO            time.Time
	reconnectAttempts int

	notifier *domain.Notifier
	sleep    throttle.Sleeper
	now      func() time.Time

	l *logrus.Logger
}

func NewImapHandler(connector Connector, options Options) *ImapHandler {
	return &ImapHandler{
		connector: connector,
		options:   options.withDefaults(),
		notifier:  &domain.Notifier{Protocol: domain.ProtocolImap},
		sleep:     throttle.DefaultSleeper,
		now:       time.Now,
		l:         log.Logger(log.LOG_IMAP),
	}
}

func (h *ImapHandler) Protocol() domain.Protocol {
	return domain.ProtocolImap
}

func (h *ImapHandler) Subscribe(listener domain.Listener) func() {
	return h.notifier.Subscribe(listener)
}

func (h *ImapHandler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state
}

func (h *ImapHandler) Connected() bool {
	return h.State() == StateConnected
}

// ReconnectAttempts is the number of attempts of the reconnect in progress,
// 0 once a reconnect succeeded.
func (h *ImapHandler) ReconnectAttempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.reconnectAttempts
}

func (h *ImapHandler) TestConnection(ctx context.Context, credentials domain.Credentials) (bool, error) {
	passwordCredentials, ok := credentials.(domain.PasswordCredentials)
	if !ok {
		return false, fmt.Errorf("imap needs password credentials, got %T", credentials)
	}

	if h.current() != nil {
		h.Disconnect()
	}

	l := h.l.WithFields(logrus.Fields{"host": passwordCredentials.Host, "user": passwordCredentials.Username})
	h.setState(StateConnecting)

	c, err := h.connector(ctx, passwordCredentials)
	if err != nil {
		h.mu.Lock()
		h.client = nil
		h.credentials = nil
		h.mu.Unlock()
		h.setState(StateDisconnected)

		l.WithField("error", err).Warn("Could not connect")
		return false, err
	}

	h.mu.Lock()
	h.client = c
	h.credentials = &passwordCredentials
	h.reconnectAttempts = 0
	h.mu.Unlock()
	h.touch()
	h.setState(StateConnected)

	l.Debug("Logged in to server")
	return true, nil
}

// Disconnect logs out and forgets the session. It never fails, logout errors
// are only logged.
func (h *ImapHandler) Disconnect() error {
	h.mu.Lock()
	c := h.client
	h.client = nil
	h.credentials = nil
	h.mu.Unlock()

	if c != nil {
		_, err := domain.WithTimeout(context.Background(), h.options.CommandTimeout, "logout", func(context.Context) (struct{}, error) {
			return struct{}{}, c.Logout()
		})
		if err != nil {
			h.l.WithField("error", err).Debug("Logout failed, terminating connection")
			c.Terminate()
		}
	}

	h.setState(StateDisconnected)
	return nil
}

func (h *ImapHandler) current() imapClient {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.client
}

func (h *ImapHandler) connectedClient() (imapClient, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.client == nil || h.state != StateConnected {
		return nil, domain.ErrNotConnected
	}
	return h.client, nil
}

func (h *ImapHandler) touch() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastIO = h.now()
}

func (h *ImapHandler) idle() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.now().Sub(h.lastIO)
}

func (h *ImapHandler) setState(s State) {
	h.mu.Lock()
	previous := h.state
	h.state = s
	h.mu.Unlock()

	if previous == s {
		return
	}

	h.l.WithFields(logrus.Fields{"from": previous, "to": s}).Debug("Connection state changed")
	if s == StateConnected {
		h.notifier.Connected()
	} else if previous == StateConnected {
		h.notifier.Disconnected()
	}
}

// healthCheck checks the session before a fetch window. It reports whether
// the session had to be replaced, in which case the folder must be selected
// again.
func (h *ImapHandler) healthCheck(ctx context.Context) (bool, error) {
	c := h.current()
	if c == nil {
		return false, domain.ErrNotConnected
	}

	if !sessionUsable(c) {
		h.l.WithField("state", c.State()).Warn("Session no longer usable")
		return true, h.reconnect(ctx, fmt.Errorf("session in state %v", c.State()))
	}

	if h.idle() <= h.options.QuietPeriod {
		return false, nil
	}

	_, err := domain.WithTimeout(ctx, h.options.CommandTimeout, "noop", func(context.Context) (struct{}, error) {
		return struct{}{}, c.Noop()
	})
	if err == nil {
		h.touch()
		return false, nil
	}

	h.l.WithField("error", err).Warn("NOOP failed")
	return true, h.reconnect(ctx, err)
}

// reconnect replaces the session, waiting 1s, 2s, 4s ... (at most 30s)
// before each of at most MaxRetries attempts.
func (h *ImapHandler) reconnect(ctx context.Context, cause error) error {
	h.setState(StateDegraded)

	h.mu.Lock()
	old := h.client
	h.client = nil
	credentials := h.credentials
	h.mu.Unlock()

	if old != nil {
		old.Terminate()
	}
	if credentials == nil {
		h.setState(StateDisconnected)
		return domain.ErrNotConnected
	}

	h.setState(StateReconnecting)
	b := throttle.NewBackOff()
	lastErr := cause
	attempts := 0

	for attempt := 1; attempt <= h.options.MaxRetries; attempt++ {
		attempts = attempt
		h.mu.Lock()
		h.reconnectAttempts = attempt
		h.mu.Unlock()

		delay := b.NextBackOff()
		h.l.WithFields(logrus.Fields{"attempt": attempt, "delay": delay, "cause": lastErr}).Info("Reconnecting")
		if err := h.sleep(ctx, delay); err != nil {
			h.setState(StateFailed)
			return err
		}

		c, err := h.connector(ctx, *credentials)
		if err == nil {
			h.mu.Lock()
			h.client = c
			h.reconnectAttempts = 0
			h.mu.Unlock()
			h.touch()
			h.setState(StateConnected)

			h.l.WithField("attempt", attempt).Info("Reconnected")
			return nil
		}

		lastErr = err
		if domain.IsAuthError(err) {
			break
		}
	}

	h.setState(StateFailed)
	h.l.WithFields(logrus.Fields{"attempts": attempts, "error": lastErr}).Error("Giving up reconnecting")
	return &domain.RecoveryError{Attempts: attempts, Err: lastErr}
}
