// SPDX-License-Identifier: GPL-3.0-or-later
package graph

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/CrawX/go-mailsync/domain"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const DefaultAuthority = "https://login.microsoftonline.com"

// RequiredCookies are the session cookies of the Microsoft login that let the
// authorize endpoint grant a code without user interaction.
var RequiredCookies = []string{"ESTSAUTH", "ESTSAUTHPERSISTENT"}

var scopes = []string{
	"offline_access",
	"https://graph.microsoft.com/User.Read",
	"https://graph.microsoft.com/Mail.Read",
}

// CookieHandler turns a browser login session into an access token and then
// behaves like the token handler.
type CookieHandler struct {
	*GraphHandler
	oauth domain.OAuthConfig
}

func NewCookieHandler(httpClient *http.Client, oauth domain.OAuthConfig, options Options) *CookieHandler {
	return &CookieHandler{
		GraphHandler: newGraphHandler(httpClient, options, domain.ProtocolGraphCookie),
		oauth:        oauth,
	}
}

func (h *CookieHandler) TestConnection(ctx context.Context, credentials domain.Credentials) (bool, error) {
	cookieCredentials, ok := credentials.(domain.CookieCredentials)
	if !ok {
		return false, fmt.Errorf("graph-cookie needs cookie credentials, got %T", credentials)
	}

	if err := validateCookies(cookieCredentials); err != nil {
		return false, &domain.AuthError{Protocol: h.protocol, Err: err}
	}

	token, err := h.bootstrap(ctx, cookieCredentials)
	if err != nil {
		h.l.WithFields(logrus.Fields{"email": cookieCredentials.Email, "error": err}).Warn("Could not obtain token from cookies")
		if !domain.IsAuthError(err) && !domain.IsConnectionError(err) {
			err = &domain.AuthError{Protocol: h.protocol, Err: err}
		}
		return false, err
	}

	return h.connect(ctx, domain.TokenCredentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresOn:    token.Expiry,
		Email:        cookieCredentials.Email,
	})
}

func validateCookies(credentials domain.CookieCredentials) error {
	missing := []string{}
	for _, name := range RequiredCookies {
		if strings.TrimSpace(credentials.Cookies[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing cookies %s", strings.Join(missing, ", "))
	}
	return nil
}

func (h *CookieHandler) oauthConfig() (*oauth2.Config, *url.URL, error) {
	tenant := h.oauth.Tenant
	if tenant == "" {
		tenant = "common"
	}

	endpoint := microsoft.AzureADEndpoint(tenant)
	authority := DefaultAuthority
	if h.oauth.Authority != "" {
		authority = strings.TrimSuffix(h.oauth.Authority, "/")
		endpoint = oauth2.Endpoint{
			AuthURL:  authority + "/" + tenant + "/oauth2/v2.0/authorize",
			TokenURL: authority + "/" + tenant + "/oauth2/v2.0/token",
		}
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	authorityURL, err := url.Parse(authority)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid authority: %w", err)
	}

	return &oauth2.Config{
		ClientID:     h.oauth.ClientId,
		ClientSecret: h.oauth.ClientSecret,
		RedirectURL:  h.oauth.RedirectUrl,
		Scopes:       scopes,
		Endpoint:     endpoint,
	}, authorityURL, nil
}

// bootstrap requests an authorization code with the login cookies, accepts
// a consent form once if one is shown, and exchanges the code.
func (h *CookieHandler) bootstrap(ctx context.Context, credentials domain.CookieCredentials) (*oauth2.Token, error) {
	config, authorityURL, err := h.oauthConfig()
	if err != nil {
		return nil, err
	}
	if config.RedirectURL == "" {
		return nil, errors.New("no redirect url configured")
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("could not create cookie jar: %w", err)
	}
	cookies := []*http.Cookie{}
	for name, value := range credentials.Cookies {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value, Path: "/", Secure: authorityURL.Scheme == "https"})
	}
	jar.SetCookies(authorityURL, cookies)

	client := &http.Client{
		Transport: h.httpClient.Transport,
		Timeout:   h.httpClient.Timeout,
		Jar:       jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if strings.HasPrefix(req.URL.String(), config.RedirectURL) {
				return http.ErrUseLastResponse
			}
			if len(via) >= 10 {
				return errors.New("too many redirects")
			}
			return nil
		},
	}

	state, err := randomState()
	if err != nil {
		return nil, err
	}
	params := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("response_mode", "query")}
	if credentials.Email != "" {
		params = append(params, oauth2.SetAuthURLParam("login_hint", credentials.Email))
	}
	authURL := config.AuthCodeURL(state, params...)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &domain.ConnectionError{Op: "authorize", Err: err}
	}

	consented := false
	for {
		code, done, err := authorizationCode(resp, config.RedirectURL, state)
		if err != nil || done {
			resp.Body.Close()
			if err != nil {
				return nil, err
			}
			return config.Exchange(context.WithValue(ctx, oauth2.HTTPClient, h.httpClient), code)
		}

		form, err := scrapeForm(resp)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if form == nil || consented {
			return nil, errors.New("no authorization code granted")
		}

		h.l.WithField("action", form.action.Host+form.action.Path).Info("Submitting consent form")
		consented = true
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, form.action.String(), strings.NewReader(form.values.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err = client.Do(req)
		if err != nil {
			return nil, &domain.ConnectionError{Op: "consent", Err: err}
		}
	}
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("could not create state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// authorizationCode reads the code from a redirect to redirectURL. done is
// false when resp is not that redirect.
func authorizationCode(resp *http.Response, redirectURL, state string) (string, bool, error) {
	location := resp.Header.Get("Location")
	if resp.StatusCode < 300 || resp.StatusCode >= 400 || !strings.HasPrefix(location, redirectURL) {
		return "", false, nil
	}

	target, err := url.Parse(location)
	if err != nil {
		return "", true, fmt.Errorf("invalid redirect: %w", err)
	}
	query := target.Query()
	if e := query.Get("error"); e != "" {
		return "", true, fmt.Errorf("authorization denied: %s %s", e, query.Get("error_description"))
	}
	if query.Get("state") != state {
		return "", true, errors.New("state mismatch in authorization response")
	}
	code := query.Get("code")
	if code == "" {
		return "", true, errors.New("no authorization code granted")
	}
	return code, true, nil
}

type form struct {
	action *url.URL
	values url.Values
}

// scrapeForm returns the first form of an html page that carries hidden
// fields, or nil if there is none.
func scrapeForm(resp *http.Response) (*form, error) {
	if resp.StatusCode != http.StatusOK || !strings.Contains(resp.Header.Get("Content-Type"), "html") {
		return nil, nil
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("could not parse login page: %w", err)
	}

	var found *form
	var walk func(n *html.Node, current *form)
	walk = func(n *html.Node, current *form) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Form:
				action, err := resp.Request.URL.Parse(attr(n, "action"))
				if err != nil {
					return
				}
				current = &form{action: action, values: url.Values{}}
			case atom.Input:
				if current != nil && strings.EqualFold(attr(n, "type"), "hidden") && attr(n, "name") != "" {
					current.values.Add(attr(n, "name"), attr(n, "value"))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, current)
		}
		if n.DataAtom == atom.Form && current != nil && len(current.values) > 0 {
			found = current
		}
	}
	walk(doc, nil)

	return found, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
