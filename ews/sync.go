// SPDX-License-Identifier: GPL-3.0-or-later
package ews

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/CrawX/go-mailsync/domain"
	"github.com/CrawX/go-mailsync/mail"

	"github.com/sirupsen/logrus"
)

const seenFlag = `\Seen`

func (h *EwsHandler) SyncMessages(ctx context.Context, options domain.SyncOptions) iter.Seq2[*domain.MailMessage, error] {
	options = options.WithDefaults([]string{"INBOX"}, h.options.BatchSize)

	return func(yield func(*domain.MailMessage, error) bool) {
		s, err := h.connectedSession()
		if err != nil {
			yield(nil, err)
			return
		}

		r := &resolver{h: h, s: s}
		for _, name := range options.Folders {
			ref, err := r.resolve(ctx, name)
			if err == nil {
				err = h.syncFolder(ctx, s, name, ref, options, yield)
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

var errStopped = errors.New("consumer stopped")

// syncFolder pages through the item ids of one folder and binds each page
// in one GetItem call. A failing page after messages of the folder were
// delivered completes the folder with a note instead of failing it.
func (h *EwsHandler) syncFolder(ctx context.Context, s *session, name string, ref folderRef, options domain.SyncOptions, yield func(*domain.MailMessage, error) bool) error {
	l := h.l.WithField("folder", name)

	var restrict *restriction
	if options.Since != nil {
		restrict = &restriction{}
		restrict.GreaterOrEqual.Field = fieldURI{FieldURI: "item:DateTimeReceived"}
		restrict.GreaterOrEqual.Constant = constant{Value: options.Since.UTC().Format(time.RFC3339)}
	}

	seen := map[string]bool{}
	processed, total := 0, 0
	partial := func(err error) error {
		if processed == 0 || domain.IsAuthError(err) || ctx.Err() != nil {
			return err
		}
		l.WithFields(logrus.Fields{"processed": processed, "error": err}).Warn("Folder synced partially")
		h.notifier.Progress(domain.ProgressEvent{Processed: processed, Total: total, Folder: name, Status: domain.StatusCompleted, Error: "partial: " + err.Error()})
		return nil
	}

	for offset, first := 0, true; ; first = false {
		if err := ctx.Err(); err != nil {
			return err
		}

		response := &findItemResponse{}
		err := h.call(ctx, s, "FindItem", &findItemRequest{
			Traversal:   "Shallow",
			Shape:       folderShape{BaseShape: "IdOnly"},
			View:        indexedPageView{MaxEntriesReturned: options.BatchSize, Offset: offset, BasePoint: "Beginning"},
			Restriction: restrict,
			SortOrder:   fieldOrder{Order: "Ascending", Field: fieldURI{FieldURI: "item:DateTimeReceived"}},
			Parents:     ref,
		}, response)
		if err == nil && len(response.Messages) == 0 {
			err = fmt.Errorf("empty FindItem response")
		}
		if err == nil {
			err = response.Messages[0].err()
		}
		if err != nil {
			return partial(fmt.Errorf("could not list items of %s: %w", name, err))
		}

		page := response.Messages[0].RootFolder
		total = page.TotalItemsInView
		if first {
			h.notifier.Progress(domain.ProgressEvent{Total: total, Folder: name, Status: domain.StatusSyncing})
		}

		ids := []string{}
		for _, i := range page.Items.Items {
			if i.ItemId.Id != "" && !seen[i.ItemId.Id] {
				ids = append(ids, i.ItemId.Id)
			}
		}

		if len(ids) > 0 {
			items, err := h.getItems(ctx, s, ids)
			if err != nil {
				return partial(fmt.Errorf("could not get items of %s: %w", name, err))
			}
			for _, i := range items {
				seen[i.ItemId.Id] = true
				processed++
				if !yield(toMailMessage(name, i), nil) {
					return errStopped
				}
			}
			h.notifier.Progress(domain.ProgressEvent{Processed: processed, Total: total, Folder: name, Status: domain.StatusSyncing})
		}

		if page.IncludesLastItemInRange || len(page.Items.Items) == 0 {
			break
		}
		if page.IndexedPagingOffset > offset {
			offset = page.IndexedPagingOffset
		} else {
			offset += len(page.Items.Items)
		}
	}

	h.notifier.Progress(domain.ProgressEvent{Processed: processed, Total: total, Folder: name, Status: domain.StatusCompleted})
	return nil
}

// getItems binds ids in one call. Items answered with an error response
// message are skipped.
func (h *EwsHandler) getItems(ctx context.Context, s *session, ids []string) ([]item, error) {
	response := &getItemResponse{}
	if err := h.call(ctx, s, "GetItem", newGetItemRequest(ids), response); err != nil {
		return nil, err
	}

	items := []item{}
	for i, m := range response.Messages {
		if err := m.err(); err != nil {
			id := ""
			if i < len(ids) {
				id = ids[i]
			}
			h.l.WithFields(logrus.Fields{"item": id, "error": err}).Warn("Skipping item")
			continue
		}
		items = append(items, m.Items.Items...)
	}

	return items, nil
}

func (h *EwsHandler) GetMessage(ctx context.Context, id string) (*domain.MailMessage, error) {
	s, err := h.connectedSession()
	if err != nil {
		return nil, err
	}

	response := &getItemResponse{}
	err = h.call(ctx, s, "GetItem", newGetItemRequest([]string{id}), response)
	if err == nil && len(response.Messages) == 0 {
		err = fmt.Errorf("empty GetItem response")
	}
	if err == nil {
		err = response.Messages[0].err()
	}
	if isResponseCode(err, "ErrorItemNotFound", "ErrorInvalidIdMalformed", "ErrorInvalidIdNotAnItemAttachmentId") {
		return nil, &domain.NotFoundError{Id: id}
	}
	if err != nil {
		return nil, fmt.Errorf("could not get item: %w", err)
	}

	items := response.Messages[0].Items.Items
	if len(items) == 0 {
		return nil, &domain.NotFoundError{Id: id}
	}

	return toMailMessage("", items[0]), nil
}

func toMailMessage(folder string, i item) *domain.MailMessage {
	m := &domain.MailMessage{
		Id:       i.ItemId.Id,
		ThreadId: i.ConversationId.Id,
		Subject:  i.Subject,
		To:       addresses(i.ToRecipients),
		Cc:       addresses(i.CcRecipients),
		Bcc:      addresses(i.BccRecipients),
		Date:     i.DateTimeReceived,
		Folder:   folder,
		Flags:    []string{},
		Labels:   append([]string{}, i.Categories...),
	}
	if m.Date.IsZero() {
		m.Date = i.DateTimeSent
	}
	if m.ThreadId == "" {
		m.ThreadId = strings.Trim(i.InternetMessageId, "<>")
	}
	if from := addresses([]mailbox{i.From}); len(from) > 0 {
		m.From = &from[0]
	}
	if i.IsRead {
		m.Flags = append(m.Flags, seenFlag)
	}

	if strings.EqualFold(i.Body.BodyType, "HTML") {
		m.Html = i.Body.Text
		m.Text = mail.TextFromHTML(i.Body.Text)
	} else {
		m.Text = i.Body.Text
	}
	m.Body = i.Body.Text

	// attachment bodies are deferred, only their metadata is bound
	for _, a := range i.Attachments {
		m.Attachments = append(m.Attachments, domain.MailAttachment{
			Filename:    a.Name,
			ContentType: a.ContentType,
			Size:        a.Size,
			ContentId:   a.ContentId,
			Content:     []byte{},
		})
	}

	return m
}

func addresses(list []mailbox) []domain.MailAddress {
	result := []domain.MailAddress{}
	for _, mb := range list {
		if mb.EmailAddress == "" {
			continue
		}
		result = append(result, domain.MailAddress{Name: mb.Name, Address: mb.EmailAddress})
	}
	return result
}
