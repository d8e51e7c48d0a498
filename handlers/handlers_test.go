// SPDX-License-Identifier: GPL-3.0-or-later
package handlers

import (
	"errors"
	"testing"
	"time"

	"github.com/CrawX/go-mailsync/domain"
	"github.com/CrawX/go-mailsync/ews"
	"github.com/CrawX/go-mailsync/graph"
	"github.com/CrawX/go-mailsync/imapconnection"
	"github.com/CrawX/go-mailsync/pop3connection"
	"github.com/CrawX/go-mailsync/tunnel"

	"github.com/stretchr/testify/assert"
)

func TestCreate(t *testing.T) {
	tests := []struct {
		id       string
		protocol domain.Protocol
		handler  domain.Handler
	}{
		{"imap", domain.ProtocolImap, &imapconnection.ImapHandler{}},
		{"POP3", domain.ProtocolPop3, &pop3connection.Pop3Handler{}},
		{"exchange", domain.ProtocolExchange, &ews.EwsHandler{}},
		{"ews", domain.ProtocolExchange, &ews.EwsHandler{}},
		{"graph", domain.ProtocolGraph, &graph.GraphHandler{}},
		{"office365", domain.ProtocolGraph, &graph.GraphHandler{}},
		{"graph-cookie", domain.ProtocolGraphCookie, &graph.CookieHandler{}},
		{" office365-cookie ", domain.ProtocolGraphCookie, &graph.CookieHandler{}},
	}
	for _, tc := range tests {
		t.Run(tc.id, func(t *testing.T) {
			h, err := Create(tc.id)
			assert.NoError(t, err)
			assert.IsType(t, tc.handler, h)
			assert.Equal(t, tc.protocol, h.Protocol())
			assert.False(t, h.Connected())
		})
	}
}

func TestCreate_Unsupported(t *testing.T) {
	h, err := Create("smtp")
	assert.Nil(t, h)
	assert.EqualError(t, err, `unsupported protocol "smtp"`)

	var unsupported *domain.UnsupportedProtocolError
	assert.True(t, errors.As(err, &unsupported))
}

func TestCreate_Options(t *testing.T) {
	socks5 := &domain.ProxyConfig{Host: "127.0.0.1", Port: 1080, Type: domain.ProxySocks5}
	httpProxy := &domain.ProxyConfig{Host: "127.0.0.1", Port: 8080, Type: domain.ProxyHttp}

	tests := []struct {
		name string
		id   string
		opts []Option
		err  string
	}{
		{"socks5 imap", "imap", []Option{WithProxy(socks5)}, ""},
		{"http proxy graph", "graph", []Option{WithProxy(httpProxy), WithHTTPTimeout(time.Second)}, ""},
		{"http proxy imap", "imap", []Option{WithProxy(httpProxy)}, "proxy type cannot tunnel raw connections: http"},
		{"http proxy pop3", "pop3", []Option{WithProxy(httpProxy)}, "proxy type cannot tunnel raw connections: http"},
		{"invalid proxy", "imap", []Option{WithProxy(&domain.ProxyConfig{Type: domain.ProxySocks5})}, `error applying handler option: invalid proxy address "":0`},
		{"timeout", "ews", []Option{WithHTTPTimeout(0)}, "error applying handler option: timeout must be positive, got 0s"},
		{"imap options", "imap", []Option{WithIMAPOptions(imapconnection.Options{BatchSize: 10})}, ""},
		{"oauth", "graph-cookie", []Option{WithOAuth(domain.OAuthConfig{ClientId: "client"}), WithGraphBaseURL("http://localhost/v1.0")}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, err := Create(tc.id, tc.opts...)
			if tc.err != "" {
				assert.EqualError(t, err, tc.err)
				assert.Nil(t, h)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, h)
		})
	}

	_, err := Create("imap", WithProxy(httpProxy))
	assert.ErrorIs(t, err, tunnel.ErrUnsupportedProxy)
}
