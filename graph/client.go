// SPDX-License-Identifier: GPL-3.0-or-later
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/CrawX/go-mailsync/domain"
	"github.com/CrawX/go-mailsync/throttle"
)

const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

var errNotFound = errors.New("resource not found")

// apiClient sends rate limited, retried GET requests with the bearer token
// of its http client.
type apiClient struct {
	client   *http.Client
	protocol domain.Protocol
	limiter  *throttle.RateLimiter
	retrier  *throttle.Retrier
}

func (c *apiClient) get(ctx context.Context, url string, out any) error {
	resp, err := c.retrier.Do(ctx, "graph request", func() (*http.Response, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Prefer", `outlook.body-content-type="html"`)
		return c.client.Do(req)
	})
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &domain.AuthError{Protocol: c.protocol, Err: throttle.ReadError(resp)}
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return errNotFound
	case resp.StatusCode != http.StatusOK:
		return throttle.ReadError(resp)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not decode response: %w", err)
	}
	return nil
}

type emailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type attachment struct {
	Id          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	ContentId   string `json:"contentId"`
}

type message struct {
	Id                string      `json:"id"`
	ConversationId    string      `json:"conversationId"`
	InternetMessageId string      `json:"internetMessageId"`
	Subject           string      `json:"subject"`
	From              *recipient  `json:"from"`
	ToRecipients      []recipient `json:"toRecipients"`
	CcRecipients      []recipient `json:"ccRecipients"`
	BccRecipients     []recipient `json:"bccRecipients"`
	ReceivedDateTime  time.Time   `json:"receivedDateTime"`
	SentDateTime      time.Time   `json:"sentDateTime"`
	Body              struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	IsRead     bool     `json:"isRead"`
	Categories []string `json:"categories"`
	Flag       struct {
		FlagStatus string `json:"flagStatus"`
	} `json:"flag"`
	Attachments []attachment `json:"attachments"`
}

type messagePage struct {
	Value    []message `json:"value"`
	NextLink string    `json:"@odata.nextLink"`
	Count    *int      `json:"@odata.count"`
}

type mailFolder struct {
	Id               string `json:"id"`
	DisplayName      string `json:"displayName"`
	ParentFolderId   string `json:"parentFolderId"`
	ChildFolderCount int    `json:"childFolderCount"`
	TotalItemCount   uint32 `json:"totalItemCount"`
	UnreadItemCount  uint32 `json:"unreadItemCount"`
}

type folderPage struct {
	Value    []mailFolder `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

type user struct {
	Id                string `json:"id"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}
