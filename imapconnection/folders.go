// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"context"
	"fmt"
	"strings"

	"github.com/CrawX/go-mailsync/domain"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var statusItems = []imap.StatusItem{imap.StatusMessages, imap.StatusUnseen}

var specialUseAttrs = map[string]domain.SpecialUse{
	imap.SentAttr:    domain.SpecialUseSent,
	imap.DraftsAttr:  domain.SpecialUseDrafts,
	imap.TrashAttr:   domain.SpecialUseTrash,
	imap.JunkAttr:    domain.SpecialUseJunk,
	imap.ArchiveAttr: domain.SpecialUseArchive,
	imap.AllAttr:     domain.SpecialUseArchive,
}

// GetFolders lists all folders with their counts. STATUS is requested for
// StatusChunkSize folders at a time, a folder whose STATUS fails is reported
// with zero counts.
func (h *ImapHandler) GetFolders(ctx context.Context) ([]*domain.MailFolder, error) {
	c, err := h.connectedClient()
	if err != nil {
		return nil, err
	}

	infos, err := h.list(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("could not list folders: %w", err)
	}

	folders := make([]*domain.MailFolder, len(infos))
	for i, info := range infos {
		folders[i] = folderFromInfo(info)
	}

	chunkSize := h.options.StatusChunkSize
	for start := 0; start < len(infos); start += chunkSize {
		if start > 0 {
			if err := h.sleep(ctx, h.options.StatusChunkDelay); err != nil {
				return nil, err
			}
		}
		end := min(start+chunkSize, len(infos))

		var g errgroup.Group
		g.SetLimit(chunkSize)
		for i := start; i < end; i++ {
			if hasAttr(infos[i], imap.NoSelectAttr) {
				continue
			}
			g.Go(func() error {
				name := infos[i].Name
				status, err := domain.WithTimeout(ctx, h.options.CommandTimeout, "status", func(context.Context) (*imap.MailboxStatus, error) {
					return c.Status(name, statusItems)
				})
				if err != nil {
					h.l.WithFields(logrus.Fields{"folder": name, "error": err}).Warn("Could not get folder status, counting as empty")
					return nil
				}

				folders[i].Messages = status.Messages
				folders[i].Unseen = status.Unseen
				return nil
			})
		}
		g.Wait()
	}
	h.touch()

	h.l.WithField("count", len(folders)).Debug("Listed folders")
	return domain.NormalizeFolders(folders), nil
}

func (h *ImapHandler) list(ctx context.Context, c imapClient) ([]*imap.MailboxInfo, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	infos := []*imap.MailboxInfo{}
	for m := range mailboxes {
		infos = append(infos, m)
	}

	if err := <-done; err != nil {
		return nil, err
	}
	return infos, nil
}

func folderFromInfo(info *imap.MailboxInfo) *domain.MailFolder {
	name := info.Name
	if info.Delimiter != "" {
		if i := strings.LastIndex(name, info.Delimiter); i >= 0 {
			name = name[i+len(info.Delimiter):]
		}
	}

	f := &domain.MailFolder{
		Name:      name,
		Path:      info.Name,
		Delimiter: info.Delimiter,
		Flags:     append([]string{}, info.Attributes...),
	}

	if strings.EqualFold(info.Name, "INBOX") {
		f.SpecialUse = append(f.SpecialUse, domain.SpecialUseInbox)
	}
	for _, attr := range info.Attributes {
		if use, ok := specialUseAttrs[attr]; ok {
			f.SpecialUse = append(f.SpecialUse, use)
		}
	}

	return f
}

func hasAttr(info *imap.MailboxInfo, attr string) bool {
	for _, a := range info.Attributes {
		if strings.EqualFold(a, attr) {
			return true
		}
	}
	return false
}
