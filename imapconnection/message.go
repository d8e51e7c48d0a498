// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/CrawX/go-mailsync/domain"
	"github.com/CrawX/go-mailsync/mail"

	"github.com/emersion/go-imap"
)

var bodySection = &imap.BodySectionName{Peek: true}

func (h *ImapHandler) fetchItems() []imap.FetchItem {
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchInternalDate,
		imap.FetchRFC822Size,
		imap.FetchUid,
	}
	if !h.options.SkipBodies {
		items = append(items, bodySection.FetchItem())
	}

	return items
}

// messageId identifies a message across sessions as folder:uidvalidity:uid.
func messageId(folder string, uidValidity, uid uint32) string {
	return fmt.Sprintf("%s:%d:%d", folder, uidValidity, uid)
}

func parseMessageId(id string) (string, uint32, uint32, error) {
	i := strings.LastIndex(id, ":")
	if i <= 0 {
		return "", 0, 0, errors.New("missing uid")
	}
	uid, err := strconv.ParseUint(id[i+1:], 10, 32)
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid uid: %w", err)
	}

	rest := id[:i]
	j := strings.LastIndex(rest, ":")
	if j <= 0 {
		return "", 0, 0, errors.New("missing uidvalidity")
	}
	uidValidity, err := strconv.ParseUint(rest[j+1:], 10, 32)
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid uidvalidity: %w", err)
	}

	return rest[:j], uint32(uidValidity), uint32(uid), nil
}

// toMailMessage prefers the full body when it was fetched and falls back to
// the envelope.
func toMailMessage(folder string, uidValidity uint32, msg *imap.Message) (*domain.MailMessage, error) {
	id := messageId(folder, uidValidity, msg.Uid)

	var m *domain.MailMessage
	if r := msg.GetBody(bodySection); r != nil {
		rawMail, err := io.ReadAll(r)
		if err != nil {
			return nil, &domain.ParseError{Id: id, Err: err}
		}
		m, err = mail.Parse(rawMail)
		if err != nil {
			return nil, &domain.ParseError{Id: id, Err: err}
		}
	} else if msg.Envelope != nil {
		m = fromEnvelope(msg.Envelope)
	} else {
		return nil, &domain.ParseError{Id: id, Err: errors.New("neither body nor envelope fetched")}
	}

	m.Id = id
	m.Folder = folder
	m.Flags = append([]string{}, msg.Flags...)
	if m.Date.IsZero() {
		m.Date = msg.InternalDate
	}
	if m.ThreadId == "" && msg.Envelope != nil {
		m.ThreadId = envelopeThreadId(msg.Envelope)
	}

	return m, nil
}

func fromEnvelope(env *imap.Envelope) *domain.MailMessage {
	m := &domain.MailMessage{
		Subject:  mail.DecodeHeader(env.Subject),
		To:       envelopeAddresses(env.To),
		Cc:       envelopeAddresses(env.Cc),
		Bcc:      envelopeAddresses(env.Bcc),
		Date:     env.Date,
		ThreadId: envelopeThreadId(env),
	}
	if from := envelopeAddresses(env.From); len(from) > 0 {
		m.From = &from[0]
	}

	return m
}

func envelopeThreadId(env *imap.Envelope) string {
	id := env.InReplyTo
	if id == "" {
		id = env.MessageId
	}
	if fields := strings.Fields(id); len(fields) > 0 {
		id = fields[0]
	}
	return strings.Trim(id, "<>")
}

func envelopeAddresses(list []*imap.Address) []domain.MailAddress {
	result := []domain.MailAddress{}
	for _, a := range list {
		// group syntax markers carry no host
		if a == nil || a.MailboxName == "" || a.HostName == "" {
			continue
		}
		result = append(result, domain.MailAddress{
			Name:    mail.DecodeHeader(a.PersonalName),
			Address: a.MailboxName + "@" + a.HostName,
		})
	}

	return result
}

// GetMessage fetches a single message by the id SyncMessages assigned to it.
// A message whose folder vanished or whose uidvalidity changed is not found.
func (h *ImapHandler) GetMessage(ctx context.Context, id string) (*domain.MailMessage, error) {
	c, err := h.connectedClient()
	if err != nil {
		return nil, err
	}

	folder, uidValidity, uid, err := parseMessageId(id)
	if err != nil {
		return nil, &domain.NotFoundError{Id: id}
	}

	status, err := domain.WithTimeout(ctx, h.options.CommandTimeout, "select", func(context.Context) (*imap.MailboxStatus, error) {
		return c.Select(folder, true)
	})
	if err != nil {
		if isConnectionError(err) {
			return nil, fmt.Errorf("could not select folder %s: %w", folder, err)
		}
		return nil, &domain.NotFoundError{Id: id}
	}
	if status.UidValidity != uidValidity {
		return nil, &domain.NotFoundError{Id: id}
	}

	seqset := &imap.SeqSet{}
	seqset.AddNum(uid)

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, h.fetchItems(), messages)
	}()

	var found *imap.Message
	for msg := range messages {
		if msg.Uid == uid {
			found = msg
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("could not fetch message: %w", err)
	}
	h.touch()

	if found == nil {
		return nil, &domain.NotFoundError{Id: id}
	}

	return toMailMessage(folder, uidValidity, found)
}
