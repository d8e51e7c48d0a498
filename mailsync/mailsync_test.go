// SPDX-License-Identifier: GPL-3.0-or-later
package mailsync

import (
	"context"
	"errors"
	"io"
	"iter"
	"testing"
	"time"

	"github.com/CrawX/go-mailsync/domain"
	"github.com/CrawX/go-mailsync/domain/mocks"

	"github.com/golang/mock/gomock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

var (
	testAccount = Account{
		Id:          "me@example.com",
		Protocol:    "imap",
		Credentials: domain.PasswordCredentials{Host: "imap.example.com", Port: 993, Secure: true, Username: "me", Password: "secret"},
	}
	started = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func nullLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

type item struct {
	m   *domain.MailMessage
	err error
}

func messages(items ...item) iter.Seq2[*domain.MailMessage, error] {
	return func(yield func(*domain.MailMessage, error) bool) {
		for _, i := range items {
			if !yield(i.m, i.err) {
				return
			}
		}
	}
}

func message(id string, addresses ...string) item {
	m := &domain.MailMessage{Id: id, From: &domain.MailAddress{Address: addresses[0]}}
	for _, a := range addresses[1:] {
		m.To = append(m.To, domain.MailAddress{Address: a})
	}
	return item{m: m}
}

// setup backs the handler's subscriptions with a real notifier, tests emit
// progress through it.
func setup(t *testing.T, cfg *configuration) (*gomock.Controller, *Runner, *mocks.MockPersistence, *mocks.MockHandler, *domain.Notifier) {
	ctrl := gomock.NewController(t)

	persistence := mocks.NewMockPersistence(ctrl)
	handler := mocks.NewMockHandler(ctrl)
	notifier := &domain.Notifier{Protocol: domain.ProtocolImap}

	runner := &Runner{
		persistence: persistence,
		factory: func(protocolID string) (domain.Handler, error) {
			assert.Equal(t, "imap", protocolID)
			return handler, nil
		},
		configuration: cfg,
		now:           func() time.Time { return started },
		l:             nullLogger(),
	}

	handler.EXPECT().Protocol().Return(domain.ProtocolImap).AnyTimes()
	handler.EXPECT().Subscribe(gomock.Any()).DoAndReturn(notifier.Subscribe).AnyTimes()
	handler.EXPECT().Disconnect().Return(nil)

	return ctrl, runner, persistence, handler, notifier
}

func expectConnect(handler *mocks.MockHandler) {
	handler.EXPECT().
		TestConnection(gomock.Any(), gomock.Eq(testAccount.Credentials)).
		Return(true, nil)
	handler.EXPECT().
		GetFolders(gomock.Any()).
		Return([]*domain.MailFolder{{Name: "INBOX", Path: "INBOX"}, {Name: "Archive", Path: "Archive"}}, nil)
}

func TestNewRunner(t *testing.T) {
	tests := []struct {
		name        string
		persistence domain.Persistence
		cfgs        []ConfigFunc
		err         string
	}{
		{"ok", &mocks.MockPersistence{}, []ConfigFunc{}, ""},
		{"dry run", nil, []ConfigFunc{DryRun()}, ""},
		{"no persistence", nil, []ConfigFunc{}, "persistence is required unless running dry"},
		{"err", nil, []ConfigFunc{DryRun(), BatchSize(-1)}, "error applying configuration: BatchSize must be positive, got -1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			runner, err := NewRunner(tc.persistence, nil, tc.cfgs...)
			if len(tc.err) == 0 {
				assert.NotNil(t, runner)
				assert.NoError(t, err)
			} else {
				assert.Nil(t, runner)
				assert.EqualError(t, err, tc.err)
			}
		})
	}
}

func TestRun(t *testing.T) {
	ctrl, runner, persistence, handler, _ := setup(t, &configuration{Folders: []string{"INBOX", "Archive"}, BatchSize: 50})
	defer ctrl.Finish()

	lastSynced := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	expectConnect(handler)
	persistence.EXPECT().
		Checkpoints(testAccount.Id).
		Return([]*domain.Checkpoint{
			{Account: testAccount.Id, Protocol: domain.ProtocolImap, Folder: "INBOX", LastSynced: lastSynced},
			{Account: testAccount.Id, Protocol: domain.ProtocolGraph, Folder: "Archive", LastSynced: lastSynced},
		}, nil)

	gomock.InOrder(
		handler.EXPECT().
			SyncMessages(gomock.Any(), gomock.Eq(domain.SyncOptions{Folders: []string{"INBOX"}, Since: &lastSynced, BatchSize: 50})).
			Return(messages(message("1", "Alice@example.com", "me@example.com"), message("2", "bob@example.com", "me@example.com"))),
		handler.EXPECT().
			SyncMessages(gomock.Any(), gomock.Eq(domain.SyncOptions{Folders: []string{"Archive"}, BatchSize: 50})).
			Return(messages(message("3", "alice@example.com"))),
	)

	persistence.EXPECT().
		SaveCheckpoints(gomock.Eq([]domain.Checkpoint{
			{Account: testAccount.Id, Protocol: domain.ProtocolImap, Folder: "INBOX", LastSynced: started, Messages: 2},
			{Account: testAccount.Id, Protocol: domain.ProtocolImap, Folder: "Archive", LastSynced: started, Messages: 1},
		})).
		Return(nil)
	persistence.EXPECT().
		SaveAddresses(testAccount.Id, gomock.Eq([]string{"alice@example.com", "bob@example.com", "me@example.com"})).
		Return(2, nil)

	summary, err := runner.Run(context.Background(), testAccount)
	assert.NoError(t, err)
	assert.Equal(t, &Summary{
		Folders:      2,
		Messages:     3,
		Addresses:    []string{"alice@example.com", "bob@example.com", "me@example.com"},
		NewAddresses: 2,
	}, summary)
}

func TestRun_DryRun(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	received := []string{}

	ctrl, runner, _, handler, _ := setup(t, &configuration{
		DryRun: true,
		Since:  &since,
		OnMessage: func(m *domain.MailMessage) error {
			received = append(received, m.Id)
			return nil
		},
	})
	defer ctrl.Finish()
	runner.persistence = nil

	expectConnect(handler)
	handler.EXPECT().
		SyncMessages(gomock.Any(), gomock.Eq(domain.SyncOptions{Folders: []string{"INBOX"}, Since: &since})).
		Return(messages(message("1", "alice@example.com"), message("2", "bob@example.com")))

	summary, err := runner.Run(context.Background(), testAccount)
	assert.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, received)
	assert.Equal(t, 2, summary.Messages)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, summary.Addresses)
}

func TestRun_FolderError(t *testing.T) {
	ctrl, runner, persistence, handler, _ := setup(t, &configuration{Folders: []string{"INBOX", "Archive"}})
	defer ctrl.Finish()

	expectConnect(handler)
	persistence.EXPECT().Checkpoints(testAccount.Id).Return(nil, nil)

	handler.EXPECT().
		SyncMessages(gomock.Any(), gomock.Eq(domain.SyncOptions{Folders: []string{"INBOX"}})).
		Return(messages(message("1", "alice@example.com"), item{err: errors.New("could not select folder INBOX")}))
	handler.EXPECT().
		SyncMessages(gomock.Any(), gomock.Eq(domain.SyncOptions{Folders: []string{"Archive"}})).
		Return(messages())

	persistence.EXPECT().
		SaveCheckpoints(gomock.Eq([]domain.Checkpoint{
			{Account: testAccount.Id, Protocol: domain.ProtocolImap, Folder: "Archive", LastSynced: started},
		})).
		Return(nil)
	persistence.EXPECT().
		SaveAddresses(testAccount.Id, gomock.Eq([]string{"alice@example.com"})).
		Return(0, nil)

	summary, err := runner.Run(context.Background(), testAccount)
	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 2, summary.Folders)
	assert.Equal(t, 1, summary.Messages)
}

func TestRun_AuthErrorDuringSync(t *testing.T) {
	ctrl, runner, persistence, handler, _ := setup(t, &configuration{Folders: []string{"INBOX", "Archive"}})
	defer ctrl.Finish()

	expectConnect(handler)
	persistence.EXPECT().Checkpoints(testAccount.Id).Return(nil, nil)

	handler.EXPECT().
		SyncMessages(gomock.Any(), gomock.Any()).
		Return(messages(item{err: &domain.AuthError{Protocol: domain.ProtocolImap, Err: errors.New("session revoked")}}))

	summary, err := runner.Run(context.Background(), testAccount)
	assert.Nil(t, summary)
	assert.EqualError(t, err, "could not sync folder INBOX: imap authentication failed: session revoked")
}

func TestRun_ConnectFails(t *testing.T) {
	ctrl, runner, _, handler, _ := setup(t, &configuration{})
	defer ctrl.Finish()

	handler.EXPECT().
		TestConnection(gomock.Any(), gomock.Any()).
		Return(false, &domain.AuthError{Protocol: domain.ProtocolImap, Err: errors.New("invalid credentials")})

	summary, err := runner.Run(context.Background(), testAccount)
	assert.Nil(t, summary)
	assert.True(t, domain.IsAuthError(err))
	assert.EqualError(t, err, "could not connect: imap authentication failed: invalid credentials")
}

func TestRun_CallbackStops(t *testing.T) {
	ctrl, runner, persistence, handler, _ := setup(t, &configuration{
		OnMessage: func(m *domain.MailMessage) error {
			return errors.New("disk full")
		},
	})
	defer ctrl.Finish()

	expectConnect(handler)
	persistence.EXPECT().Checkpoints(testAccount.Id).Return(nil, nil)

	pulled := 0
	handler.EXPECT().
		SyncMessages(gomock.Any(), gomock.Any()).
		Return(func(yield func(*domain.MailMessage, error) bool) {
			for _, id := range []string{"1", "2", "3"} {
				pulled++
				if !yield(&domain.MailMessage{Id: id}, nil) {
					return
				}
			}
		})

	_, err := runner.Run(context.Background(), testAccount)
	assert.EqualError(t, err, "could not handle message 1: disk full")
	assert.Equal(t, 1, pulled)
}

func TestRun_Listener(t *testing.T) {
	events := []domain.Event{}
	ctrl, runner, _, handler, notifier := setup(t, &configuration{
		DryRun: true,
		Listener: func(e domain.Event) {
			events = append(events, e)
		},
	})
	defer ctrl.Finish()

	expectConnect(handler)
	handler.EXPECT().
		SyncMessages(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, options domain.SyncOptions) iter.Seq2[*domain.MailMessage, error] {
			notifier.Progress(domain.ProgressEvent{Folder: "INBOX", Status: domain.StatusCompleted})
			return messages()
		})

	summary, err := runner.Run(context.Background(), testAccount)
	assert.NoError(t, err)
	assert.Equal(t, 0, summary.Errors)
	assert.Equal(t, []domain.Event{
		{Kind: domain.EventProgress, Protocol: domain.ProtocolImap, Progress: &domain.ProgressEvent{Folder: "INBOX", Status: domain.StatusCompleted}},
	}, events)

	// all listeners are gone after the run
	notifier.Progress(domain.ProgressEvent{Folder: "INBOX", Status: domain.StatusSyncing})
	assert.Len(t, events, 1)
}

func TestRun_PartialFolderKeepsCheckpoint(t *testing.T) {
	ctrl, runner, persistence, handler, notifier := setup(t, &configuration{Folders: []string{"INBOX", "Archive"}})
	defer ctrl.Finish()

	expectConnect(handler)
	persistence.EXPECT().Checkpoints(testAccount.Id).Return(nil, nil)

	gomock.InOrder(
		handler.EXPECT().
			SyncMessages(gomock.Any(), gomock.Eq(domain.SyncOptions{Folders: []string{"INBOX"}})).
			Return(func(yield func(*domain.MailMessage, error) bool) {
				if !yield(message("1", "alice@example.com").m, nil) {
					return
				}
				notifier.Progress(domain.ProgressEvent{
					Processed: 1,
					Total:     4,
					Folder:    "INBOX",
					Status:    domain.StatusCompleted,
					Error:     "partial: could not list messages of INBOX: 503 Service Unavailable",
				})
			}),
		handler.EXPECT().
			SyncMessages(gomock.Any(), gomock.Eq(domain.SyncOptions{Folders: []string{"Archive"}})).
			Return(messages(message("2", "bob@example.com"))),
	)

	persistence.EXPECT().
		SaveCheckpoints(gomock.Eq([]domain.Checkpoint{
			{Account: testAccount.Id, Protocol: domain.ProtocolImap, Folder: "Archive", LastSynced: started, Messages: 1},
		})).
		Return(nil)
	persistence.EXPECT().
		SaveAddresses(testAccount.Id, gomock.Eq([]string{"alice@example.com", "bob@example.com"})).
		Return(2, nil)

	summary, err := runner.Run(context.Background(), testAccount)
	assert.NoError(t, err)
	assert.Equal(t, &Summary{
		Folders:      2,
		Messages:     2,
		Errors:       1,
		Addresses:    []string{"alice@example.com", "bob@example.com"},
		NewAddresses: 2,
	}, summary)
}
