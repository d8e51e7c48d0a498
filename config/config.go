// SPDX-License-Identifier: GPL-3.0-or-later
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CrawX/go-mailsync/domain"
	"github.com/CrawX/go-mailsync/imapconnection"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Database string
	DryRun   bool

	Protocol string

	Host     string
	Port     int
	Secure   bool
	Username string
	Password string

	AccessToken  string
	RefreshToken string
	ExpiresOn    time.Time
	Email        string

	Cookies map[string]string

	HttpTimeout time.Duration

	Proxy *Proxy
	OAuth OAuth
	Imap  Imap
	Sync  Sync

	Loglevel *string
}

type Proxy struct {
	Type     string
	Host     string
	Port     int
	UserId   string
	Password string
}

type OAuth struct {
	ClientId     string
	ClientSecret string
	RedirectUrl  string
	Tenant       string
	Authority    string
}

type Imap struct {
	BatchSize         int
	StatusConcurrency int
	ProgressInterval  int
	MaxRetries        int
	CommandTimeout    time.Duration
	Compress          bool
	SkipBodies        bool
}

type Sync struct {
	Folders   []string
	Since     *time.Time
	BatchSize int
}

var defaultPorts = map[domain.Protocol][2]int{
	domain.ProtocolImap:     {143, 993},
	domain.ProtocolPop3:     {110, 995},
	domain.ProtocolExchange: {80, 443},
}

func ReadConfig(filename string) (*Config, error) {
	config := &Config{
		Database:    "persistence.db",
		Secure:      true,
		HttpTimeout: 60 * time.Second,
		Sync: Sync{
			Folders: []string{"INBOX"},
		},
	}

	_, err := toml.DecodeFile(filename, config)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}

	err = config.validate()
	if err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if err := validateNonEmptyStringField(c.Database, "Database name must not be empty, set to a filename for the sqlite database"); err != nil {
		return err
	}

	protocol, err := domain.ParseProtocol(c.Protocol)
	if err != nil {
		return fmt.Errorf("Protocol must be one of imap, pop3, exchange, graph or graph-cookie: %w", err)
	}

	switch protocol {
	case domain.ProtocolImap, domain.ProtocolPop3, domain.ProtocolExchange:
		if err := validateNonEmptyStringField(c.Host, "Host must not be empty, set to the host of the mail server"); err != nil {
			return err
		}
		if err := validateNonEmptyStringField(c.Username, "Username must not be empty, set to username on the mail server"); err != nil {
			return err
		}
		if err := validateNonEmptyStringField(c.Password, "Password must not be empty, set to password of Username on the mail server"); err != nil {
			return err
		}
		if c.Port == 0 {
			ports := defaultPorts[protocol]
			c.Port = ports[0]
			if c.Secure {
				c.Port = ports[1]
			}
		}
		if c.Port < 0 || c.Port > 65535 {
			return fmt.Errorf("Port %d is out of range", c.Port)
		}
	case domain.ProtocolGraph:
		if err := validateNonEmptyStringField(c.AccessToken, "AccessToken must not be empty for graph"); err != nil {
			return err
		}
	case domain.ProtocolGraphCookie:
		for _, name := range []string{"ESTSAUTH", "ESTSAUTHPERSISTENT"} {
			if err := validateNonEmptyStringField(c.Cookies[name], fmt.Sprintf("Cookies.%s must be set for graph-cookie", name)); err != nil {
				return err
			}
		}
		if err := validateNonEmptyStringField(c.OAuth.ClientId, "OAuth.ClientId must be set for graph-cookie"); err != nil {
			return err
		}
		if err := validateNonEmptyStringField(c.OAuth.RedirectUrl, "OAuth.RedirectUrl must be set for graph-cookie"); err != nil {
			return err
		}
	}

	if c.Proxy != nil {
		switch domain.ProxyType(strings.ToLower(c.Proxy.Type)) {
		case domain.ProxySocks4, domain.ProxySocks5, domain.ProxyHttp:
		default:
			return fmt.Errorf("Proxy.Type %q is invalid, use socks4, socks5 or http", c.Proxy.Type)
		}
		if err := validateNonEmptyStringField(c.Proxy.Host, "Proxy.Host must not be empty"); err != nil {
			return err
		}
		if c.Proxy.Port <= 0 || c.Proxy.Port > 65535 {
			return fmt.Errorf("Proxy.Port %d is out of range", c.Proxy.Port)
		}
	}

	if c.HttpTimeout <= 0 {
		return errors.New("HttpTimeout must be positive")
	}
	if c.Sync.BatchSize < 0 {
		return errors.New("Sync.BatchSize must not be negative")
	}

	return nil
}

func validateNonEmptyStringField(field string, err string) error {
	if len(strings.TrimSpace(field)) == 0 {
		return errors.New(err)
	}

	return nil
}

// AccountId keys the checkpoints of the configured account.
func (c *Config) AccountId() string {
	if c.Email != "" {
		return strings.ToLower(c.Email)
	}
	return strings.ToLower(c.Username + "@" + c.Host)
}

// Credentials returns the credential variant the protocol expects. The
// config must have been validated.
func (c *Config) Credentials() domain.Credentials {
	protocol, _ := domain.ParseProtocol(c.Protocol)

	switch protocol {
	case domain.ProtocolGraph:
		return domain.TokenCredentials{
			AccessToken:  c.AccessToken,
			RefreshToken: c.RefreshToken,
			ExpiresOn:    c.ExpiresOn,
			Email:        c.Email,
		}
	case domain.ProtocolGraphCookie:
		return domain.CookieCredentials{
			Cookies: c.Cookies,
			Email:   c.Email,
		}
	}

	return domain.PasswordCredentials{
		Host:     c.Host,
		Port:     c.Port,
		Secure:   c.Secure,
		Username: c.Username,
		Password: c.Password,
	}
}

func (c *Config) ProxyConfig() *domain.ProxyConfig {
	if c.Proxy == nil {
		return nil
	}

	return &domain.ProxyConfig{
		Type:     domain.ProxyType(strings.ToLower(c.Proxy.Type)),
		Host:     c.Proxy.Host,
		Port:     c.Proxy.Port,
		UserId:   c.Proxy.UserId,
		Password: c.Proxy.Password,
	}
}

func (c *Config) OAuthConfig() domain.OAuthConfig {
	return domain.OAuthConfig{
		ClientId:     c.OAuth.ClientId,
		ClientSecret: c.OAuth.ClientSecret,
		RedirectUrl:  c.OAuth.RedirectUrl,
		Tenant:       c.OAuth.Tenant,
		Authority:    c.OAuth.Authority,
	}
}

// ImapOptions overlays the configured tunables on the defaults.
func (c *Config) ImapOptions() imapconnection.Options {
	o := imapconnection.DefaultOptions()
	if c.Imap.BatchSize > 0 {
		o.BatchSize = c.Imap.BatchSize
	}
	if c.Imap.StatusConcurrency > 0 {
		o.StatusChunkSize = c.Imap.StatusConcurrency
	}
	if c.Imap.ProgressInterval > 0 {
		o.ProgressInterval = c.Imap.ProgressInterval
	}
	if c.Imap.MaxRetries > 0 {
		o.MaxRetries = c.Imap.MaxRetries
	}
	if c.Imap.CommandTimeout > 0 {
		o.CommandTimeout = c.Imap.CommandTimeout
	}
	o.Compress = c.Imap.Compress
	o.SkipBodies = c.Imap.SkipBodies

	return o
}
