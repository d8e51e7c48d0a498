// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/CrawX/go-mailsync/domain"

	"github.com/emersion/go-imap"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
)

func TestGetFolders_NotConnected(t *testing.T) {
	h, _ := newTestHandler((&sequenceConnector{}).connect)

	folders, err := h.GetFolders(context.Background())
	assert.Nil(t, folders)
	assert.Equal(t, domain.ErrNotConnected, err)
}

func TestGetFolders_Chunked(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	infos := []*imap.MailboxInfo{
		{Name: "INBOX", Delimiter: "/"},
		{Name: "[Gmail]", Delimiter: "/", Attributes: []string{imap.NoSelectAttr}},
		{Name: "[Gmail]/Sent Mail", Delimiter: "/", Attributes: []string{imap.SentAttr}},
	}
	for i := 0; i < 22; i++ {
		infos = append(infos, &imap.MailboxInfo{Name: fmt.Sprintf("Projects/p%02d", i), Delimiter: "/"})
	}

	c := NewMockimapClient(ctrl)
	c.EXPECT().List("", "*", gomock.Any()).DoAndReturn(func(ref, name string, ch chan *imap.MailboxInfo) error {
		for _, info := range infos {
			ch <- info
		}
		close(ch)
		return nil
	})
	c.EXPECT().Status(gomock.Any(), gomock.Eq(statusItems)).Times(24).DoAndReturn(func(name string, items []imap.StatusItem) (*imap.MailboxStatus, error) {
		if name == "Projects/p05" {
			return nil, errors.New("NO mailbox locked")
		}
		return &imap.MailboxStatus{Name: name, Messages: 10, Unseen: 2}, nil
	})

	h, sleeper := connectedHandler(t, &sequenceConnector{clients: []imapClient{c}})

	folders, err := h.GetFolders(context.Background())
	assert.NoError(t, err)
	assert.Len(t, folders, 25)

	// 25 folders in chunks of 10
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, sleeper.recorded())

	assert.Equal(t, &domain.MailFolder{
		Name:       "INBOX",
		Path:       "INBOX",
		Delimiter:  "/",
		Flags:      []string{},
		SpecialUse: []domain.SpecialUse{domain.SpecialUseInbox},
		Messages:   10,
		Unseen:     2,
	}, folders[0])

	assert.Equal(t, uint32(0), folders[1].Messages)
	assert.Equal(t, []string{imap.NoSelectAttr}, folders[1].Flags)

	assert.Equal(t, "Sent Mail", folders[2].Name)
	assert.Equal(t, []domain.SpecialUse{domain.SpecialUseSent}, folders[2].SpecialUse)

	for _, f := range folders[3:] {
		if f.Path == "Projects/p05" {
			assert.Equal(t, uint32(0), f.Messages)
			assert.Equal(t, uint32(0), f.Unseen)
		} else {
			assert.Equal(t, uint32(10), f.Messages)
		}
		assert.Empty(t, f.SpecialUse)
	}
}

func TestGetFolders_ListFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	c := NewMockimapClient(ctrl)
	c.EXPECT().List("", "*", gomock.Any()).DoAndReturn(func(ref, name string, ch chan *imap.MailboxInfo) error {
		close(ch)
		return errors.New("BAD list")
	})

	h, _ := connectedHandler(t, &sequenceConnector{clients: []imapClient{c}})

	_, err := h.GetFolders(context.Background())
	assert.EqualError(t, err, "could not list folders: BAD list")
}

func TestFolderFromInfo(t *testing.T) {
	tests := []struct {
		info     *imap.MailboxInfo
		name     string
		expected []domain.SpecialUse
	}{
		{&imap.MailboxInfo{Name: "INBOX", Delimiter: "."}, "INBOX", []domain.SpecialUse{domain.SpecialUseInbox}},
		{&imap.MailboxInfo{Name: "INBOX.Trash", Delimiter: ".", Attributes: []string{imap.TrashAttr}}, "Trash", []domain.SpecialUse{domain.SpecialUseTrash}},
		{&imap.MailboxInfo{Name: "Spam", Delimiter: "/", Attributes: []string{imap.JunkAttr}}, "Spam", []domain.SpecialUse{domain.SpecialUseJunk}},
		{&imap.MailboxInfo{Name: "Flat", Delimiter: ""}, "Flat", nil},
	}
	for _, tc := range tests {
		t.Run(tc.info.Name, func(t *testing.T) {
			f := folderFromInfo(tc.info)
			assert.Equal(t, tc.name, f.Name)
			assert.Equal(t, tc.info.Name, f.Path)
			assert.Equal(t, tc.expected, f.SpecialUse)
		})
	}
}
