// SPDX-License-Identifier: GPL-3.0-or-later

//go:generate mockgen -destination=mocks/handler.go -package=mocks . Handler
package domain

import (
	"context"
	"iter"
)

// Handler is the contract every protocol implementation fulfills. A handler
// owns exactly one session; overlapping SyncMessages calls on the same
// handler are not supported.
type Handler interface {
	Protocol() Protocol

	// TestConnection connects and authenticates. On failure the handler
	// holds no partial session state.
	TestConnection(ctx context.Context, credentials Credentials) (bool, error)
	GetFolders(ctx context.Context) ([]*MailFolder, error)
	// SyncMessages streams messages of the requested folders. The sequence
	// stops when the caller stops pulling.
	SyncMessages(ctx context.Context, options SyncOptions) iter.Seq2[*MailMessage, error]
	GetMessage(ctx context.Context, id string) (*MailMessage, error)
	Disconnect() error

	Connected() bool
	Subscribe(listener Listener) func()
}
