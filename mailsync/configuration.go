// SPDX-License-Identifier: GPL-3.0-or-later
package mailsync

import (
	"fmt"
	"time"

	"github.com/CrawX/go-mailsync/domain"
)

type ConfigFunc func(c *configuration) error

// DryRun syncs without reading or writing checkpoints and addresses.
func DryRun() ConfigFunc {
	return func(c *configuration) error {
		c.DryRun = true

		return nil
	}
}

func Folders(folders ...string) ConfigFunc {
	return func(c *configuration) error {
		if len(folders) == 0 {
			return fmt.Errorf("Folders cannot be empty")
		}
		for _, f := range folders {
			if len(f) == 0 {
				return fmt.Errorf("Folder name cannot be empty")
			}
		}

		c.Folders = folders
		return nil
	}
}

// Since overrides the checkpoints of every folder.
func Since(since time.Time) ConfigFunc {
	return func(c *configuration) error {
		if since.IsZero() {
			return fmt.Errorf("Since cannot be zero")
		}
		c.Since = &since
		return nil
	}
}

func BatchSize(batchSize int) ConfigFunc {
	return func(c *configuration) error {
		if batchSize <= 0 {
			return fmt.Errorf("BatchSize must be positive, got %d", batchSize)
		}
		c.BatchSize = batchSize
		return nil
	}
}

func ProgressListener(listener domain.Listener) ConfigFunc {
	return func(c *configuration) error {
		c.Listener = listener
		return nil
	}
}

// OnMessage receives every synced message. Returning an error stops the run.
func OnMessage(f func(m *domain.MailMessage) error) ConfigFunc {
	return func(c *configuration) error {
		c.OnMessage = f
		return nil
	}
}

type configuration struct {
	DryRun bool

	Folders   []string
	Since     *time.Time
	BatchSize int

	Listener  domain.Listener
	OnMessage func(m *domain.MailMessage) error
}
