// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/CrawX/go-mailsync/domain"
	"github.com/CrawX/go-mailsync/tunnel"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap-compress"
	"github.com/emersion/go-imap/client"
)

// imapClient is the subset of *client.Client the handler uses.
//
//go:generate mockgen -source=client.go -destination=mock_client_test.go -package=imapconnection
type imapClient interface {
	Login(username, password string) error
	Logout() error
	Terminate() error
	Noop() error
	State() imap.ConnState
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Status(name string, items []imap.StatusItem) (*imap.MailboxStatus, error)
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Search(criteria *imap.SearchCriteria) ([]uint32, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
}

// Connector opens an authenticated session.
type Connector func(ctx context.Context, credentials domain.PasswordCredentials) (imapClient, error)

// DialConnector dials through dialer, upgrades to TLS when the credentials
// ask for it and logs in. Login failures are reported as AuthError, every
// other failure as ConnectionError.
func DialConnector(dialer tunnel.Dialer, options Options) Connector {
	return func(ctx context.Context, credentials domain.PasswordCredentials) (imapClient, error) {
		addr := net.JoinHostPort(credentials.Host, strconv.Itoa(credentials.Port))

		c, err := domain.WithTimeout(ctx, options.CommandTimeout, "imap dial", func(ctx context.Context) (*client.Client, error) {
			if credentials.Secure {
				return client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: credentials.Host})
			}
			return client.DialWithDialer(dialer, addr)
		})
		if err != nil {
			return nil, &domain.ConnectionError{Op: "dial", Err: err}
		}
		c.Timeout = options.CommandTimeout

		err = c.Login(credentials.Username, credentials.Password)
		if err != nil {
			c.Logout()
			if isConnectionError(err) {
				return nil, &domain.ConnectionError{Op: "login", Err: err}
			}
			return nil, &domain.AuthError{Protocol: domain.ProtocolImap, Err: err}
		}

		if options.Compress {
			compressClient := compress.NewClient(c)
			supported, err := compressClient.SupportCompress(compress.Deflate)
			if err != nil {
				c.Logout()
				return nil, &domain.ConnectionError{Op: "capability", Err: err}
			}
			if supported {
				if err := compressClient.Compress(compress.Deflate); err != nil {
					c.Logout()
					return nil, fmt.Errorf("could not enable compression: %w", err)
				}
			}
		}

		return c, nil
	}
}

// isConnectionError extends the generic classification by the errors
// go-imap reports once its connection is gone.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if domain.IsConnectionError(err) {
		return true
	}
	if errors.Is(err, client.ErrNotLoggedIn) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection closed",
		"use of closed network connection",
		"broken pipe",
		"connection reset",
		"not logged in",
		"already logged out",
		"i/o timeout",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}

	return false
}

func sessionUsable(c imapClient) bool {
	state := c.State()
	return state == imap.AuthenticatedState || state == imap.SelectedState
}
