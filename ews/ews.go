// SPDX-License-Identifier: GPL-3.0-or-later
package ews

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/CrawX/go-mailsync/domain"
	"github.com/CrawX/go-mailsync/log"
	"github.com/CrawX/go-mailsync/throttle"

	"github.com/sirupsen/logrus"
)

const (
	rootFolderId   = "msgfolderroot"
	folderPageSize = 500
)

// distinguishedIds are the well-known folders that need no lookup.
var distinguishedIds = map[domain.SpecialUse]string{
	domain.SpecialUseInbox:  "inbox",
	domain.SpecialUseSent:   "sentitems",
	domain.SpecialUseDrafts: "drafts",
	domain.SpecialUseTrash:  "deleteditems",
	domain.SpecialUseJunk:   "junkemail",
}

type Options struct {
	// BatchSize is the number of items per FindItem page when the sync
	// options set none.
	BatchSize int
}

func DefaultOptions() Options {
	return Options{BatchSize: 100}
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultOptions().BatchSize
	}
	return o
}

type session struct {
	endpoint    string
	credentials domain.PasswordCredentials
}

// EwsHandler talks SOAP to an Exchange server with basic authentication.
type EwsHandler struct {
	client  *http.Client
	options Options
	retrier *throttle.Retrier

	mu      sync.Mutex
	session *session

	notifier *domain.Notifier
	l        *logrus.Logger
}

func NewEwsHandler(client *http.Client, options Options) *EwsHandler {
	l := log.Logger(log.LOG_EWS)
	retrier := throttle.NewRetrier(l)
	retrier.ShouldRetry = serverBusy

	return &EwsHandler{
		client:   client,
		options:  options.withDefaults(),
		retrier:  retrier,
		notifier: &domain.Notifier{Protocol: domain.ProtocolExchange},
		l:        l,
	}
}

// Endpoint derives the EWS url from the credentials' host, a host that
// already is an url is used as is.
func Endpoint(credentials domain.PasswordCredentials) string {
	if strings.HasPrefix(credentials.Host, "https://") || strings.HasPrefix(credentials.Host, "http://") {
		return credentials.Host
	}

	scheme, defaultPort := "https", 443
	if !credentials.Secure {
		scheme, defaultPort = "http", 80
	}
	host := credentials.Host
	if credentials.Port != 0 && credentials.Port != defaultPort {
		host = net.JoinHostPort(host, strconv.Itoa(credentials.Port))
	}

	return fmt.Sprintf("%s://%s/EWS/Exchange.asmx", scheme, host)
}

func (h *EwsHandler) Protocol() domain.Protocol {
	return domain.ProtocolExchange
}

func (h *EwsHandler) Subscribe(listener domain.Listener) func() {
	return h.notifier.Subscribe(listener)
}

func (h *EwsHandler) Connected() bool {
	return h.current() != nil
}

func (h *EwsHandler) current() *session {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.session
}

func (h *EwsHandler) connectedSession() (*session, error) {
	s := h.current()
	if s == nil {
		return nil, domain.ErrNotConnected
	}
	return s, nil
}

// TestConnection binds the inbox, which needs valid credentials.
func (h *EwsHandler) TestConnection(ctx context.Context, credentials domain.Credentials) (bool, error) {
	passwordCredentials, ok := credentials.(domain.PasswordCredentials)
	if !ok {
		return false, fmt.Errorf("exchange needs password credentials, got %T", credentials)
	}

	if h.Connected() {
		h.Disconnect()
	}

	s := &session{endpoint: Endpoint(passwordCredentials), credentials: passwordCredentials}
	l := h.l.WithFields(logrus.Fields{"endpoint": s.endpoint, "user": passwordCredentials.Username})

	response := &getFolderResponse{}
	err := h.call(ctx, s, "GetFolder", &getFolderRequest{
		Shape:     folderShape{BaseShape: "IdOnly"},
		FolderIds: refFor("inbox", true),
	}, response)
	if err == nil && len(response.Messages) == 0 {
		err = fmt.Errorf("empty GetFolder response")
	}
	if err == nil {
		err = response.Messages[0].err()
	}
	if err != nil {
		l.WithField("error", err).Warn("Could not connect")
		return false, err
	}

	h.mu.Lock()
	h.session = s
	h.mu.Unlock()
	h.notifier.Connected()

	l.Debug("Connected to exchange")
	return true, nil
}

func (h *EwsHandler) Disconnect() error {
	h.mu.Lock()
	s := h.session
	h.session = nil
	h.mu.Unlock()

	if s != nil {
		h.client.CloseIdleConnections()
		h.notifier.Disconnected()
	}
	return nil
}

// findFolders traverses the whole mail folder tree below the root.
func (h *EwsHandler) findFolders(ctx context.Context, s *session) ([]folder, error) {
	folders := []folder{}

	for offset := 0; ; {
		response := &findFolderResponse{}
		err := h.call(ctx, s, "FindFolder", &findFolderRequest{
			Traversal: "Deep",
			Shape: folderShape{
				BaseShape:            "Default",
				AdditionalProperties: &additionalProperties{FieldURI: []fieldURI{{FieldURI: "folder:ParentFolderId"}, {FieldURI: "folder:FolderClass"}}},
			},
			View:    indexedPageView{MaxEntriesReturned: folderPageSize, Offset: offset, BasePoint: "Beginning"},
			Parents: refFor(rootFolderId, true),
		}, response)
		if err != nil {
			return nil, err
		}
		if len(response.Messages) == 0 {
			return nil, fmt.Errorf("empty FindFolder response")
		}
		m := response.Messages[0]
		if err := m.err(); err != nil {
			return nil, err
		}

		folders = append(folders, m.RootFolder.Folders...)
		if m.RootFolder.IncludesLastItemInRange || len(m.RootFolder.Folders) == 0 {
			return folders, nil
		}
		if m.RootFolder.IndexedPagingOffset > offset {
			offset = m.RootFolder.IndexedPagingOffset
		} else {
			offset += len(m.RootFolder.Folders)
		}
	}
}

func isMailFolder(f folder) bool {
	return f.FolderClass == "" || f.FolderClass == "IPF.Note" || strings.HasPrefix(f.FolderClass, "IPF.Note.")
}

// folderPaths joins display names along the parent chain. Folders whose
// parent is outside the result are top level.
func folderPaths(folders []folder) map[string]string {
	byId := map[string]folder{}
	for _, f := range folders {
		byId[f.FolderId.Id] = f
	}

	paths := map[string]string{}
	var resolve func(f folder, depth int) string
	resolve = func(f folder, depth int) string {
		if p, ok := paths[f.FolderId.Id]; ok {
			return p
		}
		p := f.DisplayName
		if parent, ok := byId[f.ParentFolderId.Id]; ok && depth < len(folders) {
			p = resolve(parent, depth+1) + "/" + f.DisplayName
		}
		paths[f.FolderId.Id] = p
		return p
	}
	for _, f := range folders {
		resolve(f, 0)
	}

	return paths
}

func (h *EwsHandler) GetFolders(ctx context.Context) ([]*domain.MailFolder, error) {
	s, err := h.connectedSession()
	if err != nil {
		return nil, err
	}

	found, err := h.findFolders(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("could not list folders: %w", err)
	}

	paths := folderPaths(found)
	folders := []*domain.MailFolder{}
	for _, f := range found {
		if !isMailFolder(f) {
			continue
		}
		folders = append(folders, &domain.MailFolder{
			Name:     f.DisplayName,
			Path:     paths[f.FolderId.Id],
			Messages: f.TotalCount,
			Unseen:   f.UnreadCount,
		})
	}
	sort.SliceStable(folders, func(i, j int) bool { return folders[i].Path < folders[j].Path })

	return domain.NormalizeFolders(folders), nil
}

// resolver maps the folder names of sync options to folder references.
type resolver struct {
	h     *EwsHandler
	s     *session
	paths map[string]string
}

func (r *resolver) resolve(ctx context.Context, name string) (folderRef, error) {
	if !strings.Contains(name, "/") {
		if use, ok := domain.SpecialUseFor(name); ok {
			if id, ok := distinguishedIds[use]; ok {
				return refFor(id, true), nil
			}
		}
	}

	if r.paths == nil {
		found, err := r.h.findFolders(ctx, r.s)
		if err != nil {
			return folderRef{}, fmt.Errorf("could not list folders: %w", err)
		}
		r.paths = map[string]string{}
		for id, p := range folderPaths(found) {
			r.paths[strings.ToLower(p)] = id
		}
	}

	id, ok := r.paths[strings.ToLower(name)]
	if !ok {
		return folderRef{}, fmt.Errorf("no folder %q", name)
	}
	return refFor(id, false), nil
}
