// SPDX-License-Identifier: GPL-3.0-or-later
package handlers

import (
	"fmt"
	"time"

	"github.com/CrawX/go-mailsync/domain"
	"github.com/CrawX/go-mailsync/ews"
	"github.com/CrawX/go-mailsync/graph"
	"github.com/CrawX/go-mailsync/imapconnection"
	"github.com/CrawX/go-mailsync/pop3connection"
	"github.com/CrawX/go-mailsync/tunnel"
)

const DefaultHTTPTimeout = 60 * time.Second

type Option func(o *options) error

func WithProxy(proxy *domain.ProxyConfig) Option {
	return func(o *options) error {
		if proxy != nil && (proxy.Host == "" || proxy.Port <= 0) {
			return fmt.Errorf("invalid proxy address %q:%d", proxy.Host, proxy.Port)
		}
		o.proxy = proxy
		return nil
	}
}

func WithOAuth(oauth domain.OAuthConfig) Option {
	return func(o *options) error {
		o.oauth = oauth
		return nil
	}
}

func WithIMAPOptions(imap imapconnection.Options) Option {
	return func(o *options) error {
		o.imap = imap
		return nil
	}
}

// WithHTTPTimeout bounds every http request and every pop3 command.
func WithHTTPTimeout(timeout time.Duration) Option {
	return func(o *options) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", timeout)
		}
		o.httpTimeout = timeout
		return nil
	}
}

// WithGraphBaseURL points the graph handlers at another api root.
func WithGraphBaseURL(baseURL string) Option {
	return func(o *options) error {
		o.graphBaseURL = baseURL
		return nil
	}
}

type options struct {
	proxy        *domain.ProxyConfig
	oauth        domain.OAuthConfig
	imap         imapconnection.Options
	httpTimeout  time.Duration
	graphBaseURL string
}

// Create returns an unconnected handler for a protocol id or one of its
// aliases.
func Create(protocolID string, opts ...Option) (domain.Handler, error) {
	protocol, err := domain.ParseProtocol(protocolID)
	if err != nil {
		return nil, err
	}

	o := &options{
		imap:        imapconnection.DefaultOptions(),
		httpTimeout: DefaultHTTPTimeout,
	}
	for _, f := range opts {
		if err := f(o); err != nil {
			return nil, fmt.Errorf("error applying handler option: %w", err)
		}
	}

	if o.imap.CommandTimeout <= 0 {
		o.imap.CommandTimeout = imapconnection.DefaultOptions().CommandTimeout
	}

	switch protocol {
	case domain.ProtocolImap:
		dialer, err := tunnel.NewDialer(o.proxy, o.imap.CommandTimeout)
		if err != nil {
			return nil, err
		}
		return imapconnection.NewImapHandler(imapconnection.DialConnector(dialer, o.imap), o.imap), nil
	case domain.ProtocolPop3:
		dialer, err := tunnel.NewDialer(o.proxy, o.httpTimeout)
		if err != nil {
			return nil, err
		}
		pop3Options := pop3connection.Options{CommandTimeout: o.httpTimeout}
		return pop3connection.NewPop3Handler(pop3connection.DialConnector(dialer, o.httpTimeout), pop3Options), nil
	}

	client, err := tunnel.NewHTTPClient(o.proxy, o.httpTimeout)
	if err != nil {
		return nil, err
	}

	switch protocol {
	case domain.ProtocolExchange:
		return ews.NewEwsHandler(client, ews.Options{}), nil
	case domain.ProtocolGraph:
		return graph.NewGraphHandler(client, graph.Options{BaseURL: o.graphBaseURL}), nil
	case domain.ProtocolGraphCookie:
		return graph.NewCookieHandler(client, o.oauth, graph.Options{BaseURL: o.graphBaseURL}), nil
	}

	return nil, &domain.UnsupportedProtocolError{Protocol: protocolID}
}
