// SPDX-License-Identifier: GPL-3.0-or-later
package mail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/CrawX/go-mailsync/domain"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
	"jaytaylor.com/html2text"
)

// maxPartSize bounds how much of a single part is kept in memory.
const maxPartSize = 25 << 20

// Parse converts a raw RFC 5322 message into a MailMessage. Parsing is best
// effort: undecodable headers and parts are skipped instead of failing the
// whole message. Only a message without a readable header is an error.
func Parse(rawMail []byte) (*domain.MailMessage, error) {
	mr, err := gomail.CreateReader(bytes.NewReader(rawMail))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("could not read mail header: %w", err)
	}
	if mr == nil {
		return nil, errors.New("could not read mail header")
	}
	defer mr.Close()

	msg := headerInfos(&mr.Header)

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				continue
			}
			// truncated or malformed multipart, keep what we have
			break
		}

		switch h := p.Header.(type) {
		case *gomail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, err := io.ReadAll(io.LimitReader(p.Body, maxPartSize))
			if err != nil {
				continue
			}
			switch {
			case contentType == "text/html" && msg.Html == "":
				msg.Html = string(body)
			case (contentType == "text/plain" || contentType == "") && msg.Text == "":
				msg.Text = string(body)
			}
		case *gomail.AttachmentHeader:
			msg.Attachments = append(msg.Attachments, attachment(h, p.Body))
		}
	}

	msg.Body = msg.Html
	if msg.Body == "" {
		msg.Body = msg.Text
	}
	if msg.Text == "" && msg.Html != "" {
		msg.Text = TextFromHTML(msg.Html)
	}

	return msg, nil
}

var htmlToTextOpts = html2text.Options{TextOnly: true}

// TextFromHTML renders an html body as plain text, or "" if it can't.
func TextFromHTML(html string) string {
	text, err := html2text.FromString(html, htmlToTextOpts)
	if err != nil {
		return ""
	}
	return text
}

func headerInfos(h *gomail.Header) *domain.MailMessage {
	msg := &domain.MailMessage{}

	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}
	msg.Subject = subject

	if from := addresses(h, "From"); len(from) > 0 {
		msg.From = &from[0]
	}
	msg.To = addresses(h, "To")
	msg.Cc = addresses(h, "Cc")
	msg.Bcc = addresses(h, "Bcc")

	if date, err := h.Date(); err == nil {
		msg.Date = date
	}

	msg.ThreadId = threadId(h)

	return msg
}

// threadId is the root of the References chain, falling back to the
// message's own id.
func threadId(h *gomail.Header) string {
	for _, key := range []string{"References", "In-Reply-To"} {
		ids, err := h.MsgIDList(key)
		if err == nil && len(ids) > 0 {
			return ids[0]
		}
	}

	id, err := h.MessageID()
	if err != nil {
		return ""
	}
	return id
}

func addresses(h *gomail.Header, key string) []domain.MailAddress {
	result := []domain.MailAddress{}

	list, err := h.AddressList(key)
	if err != nil {
		// fall back to a lenient split for headers net/mail refuses
		return lenientAddresses(h.Get(key))
	}

	for _, a := range list {
		if a.Address == "" {
			continue
		}
		result = append(result, domain.MailAddress{Name: a.Name, Address: a.Address})
	}

	return result
}

func lenientAddresses(raw string) []domain.MailAddress {
	result := []domain.MailAddress{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, address := "", part
		if start, end := strings.LastIndex(part, "<"), strings.LastIndex(part, ">"); start >= 0 && end > start {
			name = strings.Trim(strings.TrimSpace(part[:start]), `"`)
			address = part[start+1 : end]
		}
		if !strings.Contains(address, "@") {
			continue
		}

		result = append(result, domain.MailAddress{Name: name, Address: strings.TrimSpace(address)})
	}

	return result
}

func attachment(h *gomail.AttachmentHeader, body io.Reader) domain.MailAttachment {
	filename, err := h.Filename()
	if err != nil || filename == "" {
		_, params, _ := mime.ParseMediaType(h.Get("Content-Type"))
		filename = params["name"]
	}
	contentType, _, _ := h.ContentType()

	content, _ := io.ReadAll(io.LimitReader(body, maxPartSize))

	return domain.MailAttachment{
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(content)),
		ContentId:   strings.Trim(h.Get("Content-Id"), "<>"),
		Content:     content,
	}
}

// DecodeHeader decodes RFC 2047 encoded words, returning the input unchanged
// when it cannot be decoded.
func DecodeHeader(value string) string {
	dec := &mime.WordDecoder{
		CharsetReader: charset.Reader,
	}
	decoded, err := dec.DecodeHeader(value)
	if err != nil {
		return value
	}

	return decoded
}

func ShortSubject(subject string) string {
	if (len(subject)) > 30 {
		subject = subject[:30] + "..."
	}
	return subject
}
