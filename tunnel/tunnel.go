// SPDX-License-Identifier: GPL-3.0-or-later
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/CrawX/go-mailsync/domain"
	"github.com/CrawX/go-mailsync/log"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
	"h12.io/socks"
)

var ErrUnsupportedProxy = errors.New("proxy type cannot tunnel raw connections")

// Dialer opens raw connections, it is satisfied by *net.Dialer and by the
// dialers of the imap and pop3 clients.
type Dialer interface {
	Dial(network, addr string) (net.Conn, error)
}

type DialerFunc func(network, addr string) (net.Conn, error)

func (f DialerFunc) Dial(network, addr string) (net.Conn, error) {
	return f(network, addr)
}

// NewDialer returns a dialer that tunnels through p, or a direct dialer when p
// is nil. HTTP proxies cannot carry raw imap or pop3 sessions.
func NewDialer(p *domain.ProxyConfig, timeout time.Duration) (Dialer, error) {
	direct := &net.Dialer{Timeout: timeout}
	if p == nil {
		return direct, nil
	}

	l := log.Logger(log.LOG_TUNNEL).WithFields(logrus.Fields{"proxy": Redacted(p)})

	switch p.Type {
	case domain.ProxySocks5:
		var auth *proxy.Auth
		if p.UserId != "" {
			auth = &proxy.Auth{User: p.UserId, Password: p.Password}
		}
		d, err := proxy.SOCKS5("tcp", proxyAddr(p), auth, direct)
		if err != nil {
			return nil, fmt.Errorf("could not create socks5 dialer: %w", err)
		}
		l.Debug("Tunneling through socks5 proxy")
		return d, nil
	case domain.ProxySocks4:
		l.Debug("Tunneling through socks4 proxy")
		return DialerFunc(socks.Dial(socks4URI(p, timeout))), nil
	case domain.ProxyHttp:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProxy, p.Type)
	}

	return nil, fmt.Errorf("unknown proxy type %q", p.Type)
}

// NewHTTPClient returns a client whose transport routes through p.
func NewHTTPClient(p *domain.ProxyConfig, timeout time.Duration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil

	if p != nil {
		switch p.Type {
		case domain.ProxyHttp, domain.ProxySocks5:
			u, err := ProxyURL(p)
			if err != nil {
				return nil, err
			}
			transport.Proxy = http.ProxyURL(u)
		case domain.ProxySocks4:
			dial := socks.Dial(socks4URI(p, timeout))
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dial(network, addr)
			}
		default:
			return nil, fmt.Errorf("unknown proxy type %q", p.Type)
		}

		log.Logger(log.LOG_TUNNEL).WithFields(logrus.Fields{"proxy": Redacted(p)}).Debug("Using proxy for http client")
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

// ProxyURL returns the url form of p with credentials as userinfo.
func ProxyURL(p *domain.ProxyConfig) (*url.URL, error) {
	if p == nil {
		return nil, errors.New("no proxy configured")
	}
	if p.Host == "" || p.Port <= 0 {
		return nil, fmt.Errorf("invalid proxy address %q:%d", p.Host, p.Port)
	}

	u := &url.URL{
		Scheme: string(p.Type),
		Host:   proxyAddr(p),
	}
	if p.UserId != "" {
		if p.Password != "" {
			u.User = url.UserPassword(p.UserId, p.Password)
		} else {
			u.User = url.User(p.UserId)
		}
	}

	return u, nil
}

// Redacted describes p for logging without its password.
func Redacted(p *domain.ProxyConfig) string {
	u, err := ProxyURL(p)
	if err != nil {
		return "none"
	}
	return u.Redacted()
}

func proxyAddr(p *domain.ProxyConfig) string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func socks4URI(p *domain.ProxyConfig, timeout time.Duration) string {
	u := &url.URL{
		Scheme: "socks4",
		Host:   proxyAddr(p),
	}
	if p.UserId != "" {
		u.User = url.User(p.UserId)
	}
	if timeout > 0 {
		u.RawQuery = url.Values{"timeout": []string{timeout.String()}}.Encode()
	}

	return u.String()
}
