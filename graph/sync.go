// SPDX-License-Identifier: GPL-3.0-or-later
package graph

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/CrawX/go-mailsync/domain"
	"github.com/CrawX/go-mailsync/mail"

	"github.com/sirupsen/logrus"
)

const (
	seenFlag    = `\Seen`
	flaggedFlag = `\Flagged`
)

var errStopped = errors.New("consumer stopped")

func (h *GraphHandler) SyncMessages(ctx context.Context, options domain.SyncOptions) iter.Seq2[*domain.MailMessage, error] {
	options = options.WithDefaults([]string{"INBOX"}, h.options.BatchSize)

	return func(yield func(*domain.MailMessage, error) bool) {
		s, err := h.connectedSession()
		if err != nil {
			yield(nil, err)
			return
		}

		var ids map[string]string
		for _, name := range options.Folders {
			id, err := h.folderId(ctx, s, name, &ids)
			if err == nil {
				err = h.syncFolder(ctx, s, name, id, options, yield)
			}
			if errors.Is(err, errStopped) {
				return
			}
			if err != nil {
				h.notifier.Progress(domain.ProgressEvent{Folder: name, Status: domain.StatusError, Error: err.Error()})
				if !yield(nil, err) || domain.IsAuthError(err) {
					return
				}
			}
		}
	}
}

func (h *GraphHandler) messagesURL(folderId string, options domain.SyncOptions) string {
	query := url.Values{}
	query.Set("$top", strconv.Itoa(options.BatchSize))
	query.Set("$select", messageFields)
	query.Set("$orderby", "receivedDateTime desc")
	query.Set("$expand", "attachments($select="+attachmentFields+")")
	query.Set("$count", "true")
	if options.Since != nil {
		query.Set("$filter", "receivedDateTime ge "+options.Since.UTC().Format(time.RFC3339))
	}

	return fmt.Sprintf("%s/me/mailFolders/%s/messages?%s", h.options.BaseURL, url.PathEscape(folderId), query.Encode())
}

// syncFolder follows the next links of a folder's message listing. A page
// failing after messages of the folder were delivered completes the folder
// with a note. Skip-based paging shifts when mail arrives during the sync,
// messages already delivered from an earlier page are skipped.
func (h *GraphHandler) syncFolder(ctx context.Context, s *session, name, id string, options domain.SyncOptions, yield func(*domain.MailMessage, error) bool) error {
	l := h.l.WithField("folder", name)
	processed, total := 0, 0
	seen := map[string]bool{}

	for next, first := h.messagesURL(id, options), true; next != ""; first = false {
		page := &messagePage{}
		if err := s.api.get(ctx, next, page); err != nil {
			err = fmt.Errorf("could not list messages of %s: %w", name, err)
			if processed == 0 || domain.IsAuthError(err) || ctx.Err() != nil {
				return err
			}
			l.WithFields(logrus.Fields{"processed": processed, "error": err}).Warn("Folder synced partially")
			h.notifier.Progress(domain.ProgressEvent{Processed: processed, Total: total, Folder: name, Status: domain.StatusCompleted, Error: "partial: " + err.Error()})
			return nil
		}

		if page.Count != nil {
			total = *page.Count
		}
		if first {
			h.notifier.Progress(domain.ProgressEvent{Total: total, Folder: name, Status: domain.StatusSyncing})
		}

		for i := range page.Value {
			if seen[page.Value[i].Id] {
				l.WithField("id", page.Value[i].Id).Debug("Skipping message seen on an earlier page")
				continue
			}
			seen[page.Value[i].Id] = true
			processed++
			if !yield(toMailMessage(name, &page.Value[i]), nil) {
				return errStopped
			}
		}
		if len(page.Value) > 0 {
			h.notifier.Progress(domain.ProgressEvent{Processed: processed, Total: total, Folder: name, Status: domain.StatusSyncing})
		}

		next = page.NextLink
	}

	h.notifier.Progress(domain.ProgressEvent{Processed: processed, Total: total, Folder: name, Status: domain.StatusCompleted})
	return nil
}

func toMailMessage(folder string, m *message) *domain.MailMessage {
	result := &domain.MailMessage{
		Id:       m.Id,
		ThreadId: m.ConversationId,
		Subject:  m.Subject,
		To:       addresses(m.ToRecipients),
		Cc:       addresses(m.CcRecipients),
		Bcc:      addresses(m.BccRecipients),
		Date:     m.ReceivedDateTime,
		Body:     m.Body.Content,
		Folder:   folder,
		Flags:    []string{},
		Labels:   append([]string{}, m.Categories...),
	}
	if result.Date.IsZero() {
		result.Date = m.SentDateTime
	}
	if result.ThreadId == "" {
		result.ThreadId = strings.Trim(m.InternetMessageId, "<>")
	}
	if m.From != nil {
		if from := addresses([]recipient{*m.From}); len(from) > 0 {
			result.From = &from[0]
		}
	}
	if m.IsRead {
		result.Flags = append(result.Flags, seenFlag)
	}
	if m.Flag.FlagStatus == "flagged" {
		result.Flags = append(result.Flags, flaggedFlag)
	}

	if strings.EqualFold(m.Body.ContentType, "html") {
		result.Html = m.Body.Content
		result.Text = mail.TextFromHTML(m.Body.Content)
	} else {
		result.Text = m.Body.Content
	}

	// attachment bodies are deferred, only their metadata is listed
	for _, a := range m.Attachments {
		result.Attachments = append(result.Attachments, domain.MailAttachment{
			Filename:    a.Name,
			ContentType: a.ContentType,
			Size:        a.Size,
			ContentId:   a.ContentId,
			Content:     []byte{},
		})
	}

	return result
}

func addresses(list []recipient) []domain.MailAddress {
	result := []domain.MailAddress{}
	for _, r := range list {
		if r.EmailAddress.Address == "" {
			continue
		}
		result = append(result, domain.MailAddress{Name: r.EmailAddress.Name, Address: r.EmailAddress.Address})
	}
	return result
}
