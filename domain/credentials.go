// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"strings"
	"time"
)

type Protocol string

const (
	ProtocolImap        = Protocol("imap")
	ProtocolPop3        = Protocol("pop3")
	ProtocolExchange    = Protocol("exchange")
	ProtocolGraph       = Protocol("graph")
	ProtocolGraphCookie = Protocol("graph-cookie")
)

var protocolAliases = map[string]Protocol{
	"imap":             ProtocolImap,
	"pop3":             ProtocolPop3,
	"exchange":         ProtocolExchange,
	"ews":              ProtocolExchange,
	"graph":            ProtocolGraph,
	"office365":        ProtocolGraph,
	"graph-cookie":     ProtocolGraphCookie,
	"office365-cookie": ProtocolGraphCookie,
}

// ParseProtocol resolves a protocol id or one of its aliases.
func ParseProtocol(id string) (Protocol, error) {
	p, ok := protocolAliases[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return "", &UnsupportedProtocolError{Protocol: id}
	}

	return p, nil
}

// Credentials is implemented by the credential variants of the protocols.
type Credentials interface {
	credentials()
}

// PasswordCredentials are used by imap, pop3 and exchange.
type PasswordCredentials struct {
	Host     string
	Port     int
	Secure   bool
	Username string
	Password string
}

type TokenCredentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresOn    time.Time
	Email        string
}

type CookieCredentials struct {
	Cookies map[string]string
	Email   string
}

func (PasswordCredentials) credentials() {}
func (TokenCredentials) credentials()    {}
func (CookieCredentials) credentials()   {}

type ProxyType string

const (
	ProxySocks4 = ProxyType("socks4")
	ProxySocks5 = ProxyType("socks5")
	ProxyHttp   = ProxyType("http")
)

type ProxyConfig struct {
	Host     string
	Port     int
	Type     ProxyType
	UserId   string
	Password string
}

type OAuthConfig struct {
	ClientId     string
	ClientSecret string
	RedirectUrl  string
	Tenant       string
	// Authority overrides the login host, https://login.microsoftonline.com by default.
	Authority string
}
