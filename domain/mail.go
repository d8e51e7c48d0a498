// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "time"

type SpecialUse string

const (
	SpecialUseInbox   = SpecialUse("Inbox")
	SpecialUseSent    = SpecialUse("Sent")
	SpecialUseDrafts  = SpecialUse("Drafts")
	SpecialUseTrash   = SpecialUse("Trash")
	SpecialUseJunk    = SpecialUse("Junk")
	SpecialUseArchive = SpecialUse("Archive")
)

type MailAddress struct {
	Name    string
	Address string
}

type MailAttachment struct {
	Filename    string
	ContentType string
	Size        int64
	ContentId   string
	// Content is empty when the protocol defers attachment bodies.
	Content []byte
}

// MailMessage is the protocol independent representation of a synced
// message. Body holds the html part if present, the text part otherwise.
type MailMessage struct {
	Id       string
	ThreadId string
	Subject  string
	From     *MailAddress
	To       []MailAddress
	Cc       []MailAddress
	Bcc      []MailAddress
	Date     time.Time

	Body string
	Html string
	Text string

	Attachments []MailAttachment
	Folder      string
	Flags       []string
	Labels      []string
}

// Addresses returns every address of the message in header order, sender first.
func (m *MailMessage) Addresses() []MailAddress {
	addresses := []MailAddress{}
	if m.From != nil {
		addresses = append(addresses, *m.From)
	}
	addresses = append(addresses, m.To...)
	addresses = append(addresses, m.Cc...)
	addresses = append(addresses, m.Bcc...)

	return addresses
}

type MailFolder struct {
	Name       string
	Path       string
	Delimiter  string
	Flags      []string
	SpecialUse []SpecialUse
	Messages   uint32
	Unseen     uint32
}

type SyncOptions struct {
	Folders   []string
	Since     *time.Time
	BatchSize int
}

// WithDefaults fills unset folders and batch size.
func (o SyncOptions) WithDefaults(folders []string, batchSize int) SyncOptions {
	if len(o.Folders) == 0 {
		o.Folders = folders
	}
	if o.BatchSize <= 0 {
		o.BatchSize = batchSize
	}

	return o
}

type ProgressStatus string

const (
	StatusSyncing   = ProgressStatus("syncing")
	StatusCompleted = ProgressStatus("completed")
	StatusError     = ProgressStatus("error")
)

type ProgressEvent struct {
	Processed int
	// Total is 0 when unknown.
	Total  int
	Folder string
	Status ProgressStatus
	Error  string
}
