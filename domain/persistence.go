// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "time"

//go:generate mockgen -destination=mocks/persistence.go -package=mocks . Persistence

// Checkpoint records the last successful sync of a folder of an account.
type Checkpoint struct {
	Account    string
	Protocol   Protocol
	Folder     string
	LastSynced time.Time
	Messages   int
}

type Persistence interface {
	Close() error
	Checkpoints(account string) ([]*Checkpoint, error)
	SaveCheckpoints(checkpoints []Checkpoint) error
	// SaveAddresses stores discovered addresses and returns how many were new.
	SaveAddresses(account string, addresses []string) (int, error)
}
