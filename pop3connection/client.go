// SPDX-License-Identifier: GPL-3.0-or-later
package pop3connection

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/CrawX/go-mailsync/domain"
	"github.com/CrawX/go-mailsync/tunnel"

	"github.com/knadh/go-pop3"
)

// pop3Client is the subset of *pop3.Conn the handler uses.
//
//go:generate mockgen -source=client.go -destination=mock_client_test.go -package=pop3connection
type pop3Client interface {
	Stat() (int, int, error)
	List(msgID int) ([]pop3.MessageID, error)
	Uidl(msgID int) ([]pop3.MessageID, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
	Quit() error
}

// Connector opens an authenticated session.
type Connector func(ctx context.Context, credentials domain.PasswordCredentials) (pop3Client, error)

// DialConnector connects through dialer and authenticates with USER/PASS.
func DialConnector(dialer tunnel.Dialer, timeout time.Duration) Connector {
	return func(ctx context.Context, credentials domain.PasswordCredentials) (pop3Client, error) {
		p := pop3.New(pop3.Opt{
			Host:        credentials.Host,
			Port:        credentials.Port,
			DialTimeout: timeout,
			Dialer:      dialer,
			TLSEnabled:  credentials.Secure,
		})

		c, err := domain.WithTimeout(ctx, timeout, "pop3 dial", func(context.Context) (*pop3.Conn, error) {
			return p.NewConn()
		})
		if err != nil {
			return nil, &domain.ConnectionError{Op: "dial", Err: err}
		}

		_, err = domain.WithTimeout(ctx, timeout, "pop3 auth", func(context.Context) (struct{}, error) {
			return struct{}{}, c.Auth(credentials.Username, credentials.Password)
		})
		if err != nil {
			c.Quit()
			if isConnectionError(err) {
				return nil, &domain.ConnectionError{Op: "auth", Err: err}
			}
			return nil, &domain.AuthError{Protocol: domain.ProtocolPop3, Err: err}
		}

		return c, nil
	}
}

// isConnectionError tells transport failures apart from -ERR responses.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if domain.IsConnectionError(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"use of closed network connection", "broken pipe", "connection reset", "i/o timeout"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
