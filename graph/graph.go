// SPDX-License-Identifier: GPL-3.0-or-later
package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CrawX/go-mailsync/domain"
	"github.com/CrawX/go-mailsync/log"
	"github.com/CrawX/go-mailsync/throttle"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const (
	messageFields    = "id,conversationId,internetMessageId,subject,from,toRecipients,ccRecipients,bccRecipients,receivedDateTime,sentDateTime,body,isRead,categories,flag"
	attachmentFields = "id,name,contentType,size,isInline"
	folderPageSize   = 100
)

// wellKnownNames address the default folders without a lookup.
var wellKnownNames = map[domain.SpecialUse]string{
	domain.SpecialUseInbox:   "inbox",
	domain.SpecialUseSent:    "sentitems",
	domain.SpecialUseDrafts:  "drafts",
	domain.SpecialUseTrash:   "deleteditems",
	domain.SpecialUseJunk:    "junkemail",
	domain.SpecialUseArchive: "archive",
}

type Options struct {
	BaseURL string
	// BatchSize is the page size ($top) when the sync options set none.
	BatchSize int
}

func DefaultOptions() Options {
	return Options{BaseURL: DefaultBaseURL, BatchSize: 50}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BaseURL == "" {
		o.BaseURL = d.BaseURL
	}
	o.BaseURL = strings.TrimSuffix(o.BaseURL, "/")
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	return o
}

type session struct {
	api   *apiClient
	email string
}

// GraphHandler reads a mailbox through Microsoft Graph with a bearer token.
// Tokens are never refreshed, an expired token is an AuthError.
type GraphHandler struct {
	httpClient *http.Client
	options    Options
	protocol   domain.Protocol
	limiter    *throttle.RateLimiter
	retrier    *throttle.Retrier
	now        func() time.Time

	mu      sync.Mutex
	session *session

	notifier *domain.Notifier
	l        *logrus.Logger
}

func NewGraphHandler(httpClient *http.Client, options Options) *GraphHandler {
	return newGraphHandler(httpClient, options, domain.ProtocolGraph)
}

func newGraphHandler(httpClient *http.Client, options Options, protocol domain.Protocol) *GraphHandler {
	l := log.Logger(log.LOG_GRAPH)
	return &GraphHandler{
		httpClient: httpClient,
		options:    options.withDefaults(),
		protocol:   protocol,
		limiter:    throttle.NewRateLimiter(),
		retrier:    throttle.NewRetrier(l),
		now:        time.Now,
		notifier:   &domain.Notifier{Protocol: protocol},
		l:          l,
	}
}

func (h *GraphHandler) Protocol() domain.Protocol {
	return h.protocol
}

func (h *GraphHandler) Subscribe(listener domain.Listener) func() {
	return h.notifier.Subscribe(listener)
}

func (h *GraphHandler) Connected() bool {
	return h.current() != nil
}

func (h *GraphHandler) current() *session {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.session
}

func (h *GraphHandler) connectedSession() (*session, error) {
	s := h.current()
	if s == nil {
		return nil, domain.ErrNotConnected
	}
	return s, nil
}

func (h *GraphHandler) TestConnection(ctx context.Context, credentials domain.Credentials) (bool, error) {
	tokenCredentials, ok := credentials.(domain.TokenCredentials)
	if !ok {
		return false, fmt.Errorf("graph needs token credentials, got %T", credentials)
	}
	return h.connect(ctx, tokenCredentials)
}

func (h *GraphHandler) connect(ctx context.Context, credentials domain.TokenCredentials) (bool, error) {
	if h.Connected() {
		h.Disconnect()
	}

	l := h.l.WithField("email", credentials.Email)
	if credentials.AccessToken == "" {
		return false, &domain.AuthError{Protocol: h.protocol, Err: errors.New("no access token")}
	}
	if !credentials.ExpiresOn.IsZero() && !credentials.ExpiresOn.After(h.now()) {
		l.WithField("expired", credentials.ExpiresOn).Warn("Access token expired")
		return false, &domain.AuthError{Protocol: h.protocol, Err: errors.New("access token expired, refreshing is not supported")}
	}

	token := &oauth2.Token{
		AccessToken:  credentials.AccessToken,
		RefreshToken: credentials.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       credentials.ExpiresOn,
	}
	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, h.httpClient), oauth2.StaticTokenSource(token))
	client.Timeout = h.httpClient.Timeout

	s := &session{
		api:   &apiClient{client: client, protocol: h.protocol, limiter: h.limiter, retrier: h.retrier},
		email: credentials.Email,
	}

	me := &user{}
	if err := s.api.get(ctx, h.options.BaseURL+"/me?$select=id,mail,userPrincipalName", me); err != nil {
		l.WithField("error", err).Warn("Could not connect")
		return false, err
	}
	if s.email == "" {
		s.email = me.Mail
		if s.email == "" {
			s.email = me.UserPrincipalName
		}
	}

	h.mu.Lock()
	h.session = s
	h.mu.Unlock()
	h.notifier.Connected()

	l.WithField("user", me.UserPrincipalName).Debug("Connected to graph")
	return true, nil
}

func (h *GraphHandler) Disconnect() error {
	h.mu.Lock()
	s := h.session
	h.session = nil
	h.mu.Unlock()

	if s != nil {
		h.httpClient.CloseIdleConnections()
		h.notifier.Disconnected()
	}
	return nil
}

// listFolders walks the folder tree breadth first, following next links.
func (h *GraphHandler) listFolders(ctx context.Context, s *session) ([]*domain.MailFolder, map[string]string, error) {
	type pending struct {
		url  string
		path string
	}

	folders := []*domain.MailFolder{}
	ids := map[string]string{}
	queue := []pending{{url: fmt.Sprintf("%s/me/mailFolders?$top=%d", h.options.BaseURL, folderPageSize)}}

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		page := &folderPage{}
		if err := s.api.get(ctx, next.url, page); err != nil {
			return nil, nil, err
		}
		if page.NextLink != "" {
			queue = append(queue, pending{url: page.NextLink, path: next.path})
		}

		for _, f := range page.Value {
			path := f.DisplayName
			if next.path != "" {
				path = next.path + "/" + f.DisplayName
			}
			folders = append(folders, &domain.MailFolder{
				Name:     f.DisplayName,
				Path:     path,
				Messages: f.TotalItemCount,
				Unseen:   f.UnreadItemCount,
			})
			ids[strings.ToLower(path)] = f.Id

			if f.ChildFolderCount > 0 {
				queue = append(queue, pending{
					url:  fmt.Sprintf("%s/me/mailFolders/%s/childFolders?$top=%d", h.options.BaseURL, url.PathEscape(f.Id), folderPageSize),
					path: path,
				})
			}
		}
	}

	sort.SliceStable(folders, func(i, j int) bool { return folders[i].Path < folders[j].Path })
	return folders, ids, nil
}

func (h *GraphHandler) GetFolders(ctx context.Context) ([]*domain.MailFolder, error) {
	s, err := h.connectedSession()
	if err != nil {
		return nil, err
	}

	folders, _, err := h.listFolders(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("could not list folders: %w", err)
	}
	return domain.NormalizeFolders(folders), nil
}

// folderId maps a folder name to a well-known name or, by path, to the id of
// the folder.
func (h *GraphHandler) folderId(ctx context.Context, s *session, name string, ids *map[string]string) (string, error) {
	if !strings.Contains(name, "/") {
		if use, ok := domain.SpecialUseFor(name); ok {
			if id, ok := wellKnownNames[use]; ok {
				return id, nil
			}
		}
	}

	if *ids == nil {
		_, found, err := h.listFolders(ctx, s)
		if err != nil {
			return "", fmt.Errorf("could not list folders: %w", err)
		}
		*ids = found
	}

	id, ok := (*ids)[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("no folder %q", name)
	}
	return id, nil
}

func (h *GraphHandler) GetMessage(ctx context.Context, id string) (*domain.MailMessage, error) {
	s, err := h.connectedSession()
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("$select", messageFields)
	query.Set("$expand", "attachments($select="+attachmentFields+")")

	m := &message{}
	err = s.api.get(ctx, fmt.Sprintf("%s/me/messages/%s?%s", h.options.BaseURL, url.PathEscape(id), query.Encode()), m)
	if errors.Is(err, errNotFound) {
		return nil, &domain.NotFoundError{Id: id}
	}
	if err != nil {
		return nil, fmt.Errorf("could not get message: %w", err)
	}

	return toMailMessage("", m), nil
}
