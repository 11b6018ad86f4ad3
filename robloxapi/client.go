package robloxapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"Friend_Path/robloxapi/dialer"
	"Friend_Path/socialgraph/graph"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/xerrors"
)

const (
	defaultUsersURL       = "https://users.roblox.com"
	defaultFriendsURL     = "https://friends.roblox.com"
	defaultRequestTimeout = 10 * time.Second
	defaultPageSize       = 50

	credentialCookie = ".ROBLOSECURITY"
)

// Doer is implemented by objects that can perform HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// BreakerConfig configures the circuit breaker wrapped around remote calls.
// Transport failures and 5xx responses count as failures; throttling and
// other 4xx responses do not.
type BreakerConfig struct {
	// Requests allowed through while half-open.
	MaxRequests uint32

	// Cyclic period for clearing failure counts while closed.
	Interval time.Duration

	// How long the breaker stays open before probing again.
	Timeout time.Duration

	// Number of consecutive failures that trip the breaker.
	ConsecutiveFailures uint32
}

// Config encapsulates the settings for configuring the API client.
type Config struct {
	// Base URL of the users service. Defaults to https://users.roblox.com.
	UsersURL string

	// Base URL of the friends service. Defaults to https://friends.roblox.com.
	FriendsURL string

	// The session credential sent as the .ROBLOSECURITY cookie.
	Credential string

	// The client for performing http requests. If not specified, a client
	// with RequestTimeout will be created.
	HTTPClient Doer

	// Per-request timeout for the default HTTP client.
	RequestTimeout time.Duration

	// SHA256 fingerprint of the remote server's public key. When set, the
	// default HTTP client refuses servers presenting any other key.
	PinnedKeyFingerprint []byte

	// Number of friends requested per page.
	PageSize int

	// Optional circuit breaker. A nil value disables it.
	Breaker *BreakerConfig

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.UsersURL == "" {
		cfg.UsersURL = defaultUsersURL
	}
	if cfg.FriendsURL == "" {
		cfg.FriendsURL = defaultFriendsURL
	}
	for _, raw := range []string{cfg.UsersURL, cfg.FriendsURL} {
		if _, perr := url.ParseRequestURI(raw); perr != nil {
			err = multierror.Append(err, xerrors.Errorf("invalid API URL %q: %w", raw, perr))
		}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Breaker != nil && cfg.Breaker.ConsecutiveFailures == 0 {
		err = multierror.Append(err, xerrors.Errorf("invalid value for breaker consecutive failures"))
	}
	if len(cfg.PinnedKeyFingerprint) != 0 && cfg.HTTPClient != nil {
		err = multierror.Append(err, xerrors.Errorf("pinned key fingerprint cannot be combined with a custom HTTP client"))
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	return err
}

// Page is one page of a member's friend list.
type Page struct {
	Friends    graph.EdgeList
	NextCursor string
}

// Client talks to the users and friends endpoints of the remote API.
type Client struct {
	cfg     Config
	doer    Doer
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates a new API client with the specified config.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("api client: config validation failed: %w", err)
	}

	c := &Client{cfg: cfg, doer: cfg.HTTPClient}
	if c.doer == nil {
		c.doer = newHTTPClient(cfg)
	}
	if bc := cfg.Breaker; bc != nil {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "remote-api",
			MaxRequests: bc.MaxRequests,
			Interval:    bc.Interval,
			Timeout:     bc.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= bc.ConsecutiveFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				cfg.Logger.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("circuit breaker changed state")
			},
			IsSuccessful: isBreakerSuccess,
		})
	}
	return c, nil
}

func newHTTPClient(cfg Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if len(cfg.PinnedKeyFingerprint) != 0 {
		transport.DialTLSContext = dialer.WithPinnedCertVerification(cfg.PinnedKeyFingerprint, &tls.Config{MinVersion: tls.VersionTLS12})
	}
	return &http.Client{Transport: transport, Timeout: cfg.RequestTimeout}
}

func isBreakerSuccess(err error) bool {
	if err == nil || xerrors.Is(err, ErrThrottled) {
		return true
	}
	var statusErr *StatusError
	if xerrors.As(err, &statusErr) {
		return !statusErr.ServerSide()
	}
	return false
}

type lookupRequest struct {
	Usernames          []string `json:"usernames"`
	ExcludeBannedUsers bool     `json:"excludeBannedUsers"`
}

type lookupResponse struct {
	Data []struct {
		ID   graph.NodeID `json:"id"`
		Name string       `json:"name"`
	} `json:"data"`
}

// LookupUsername resolves a handle to a member. It returns graph.ErrNotFound
// when the remote reports no match. The handle is sent as given.
func (c *Client) LookupUsername(ctx context.Context, handle graph.Handle) (graph.Friend, error) {
	body, err := json.Marshal(lookupRequest{
		Usernames:          []string{string(handle)},
		ExcludeBannedUsers: true,
	})
	if err != nil {
		return graph.Friend{}, xerrors.Errorf("lookup %q: %w", handle, err)
	}

	endpoint := strings.TrimSuffix(c.cfg.UsersURL, "/") + "/v1/usernames/users"
	var res lookupResponse
	err = c.call(func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, &res)
	if err != nil {
		return graph.Friend{}, xerrors.Errorf("lookup %q: %w", handle, err)
	}
	if len(res.Data) == 0 {
		return graph.Friend{}, xerrors.Errorf("lookup %q: %w", handle, graph.ErrNotFound)
	}
	return graph.Friend{ID: res.Data[0].ID, Handle: graph.Handle(res.Data[0].Name)}, nil
}

type friendsResponse struct {
	Data []struct {
		ID   graph.NodeID `json:"id"`
		Name string       `json:"name"`
	} `json:"data"`
	NextPageCursor *string `json:"nextPageCursor"`
}

// FriendsPage fetches one page of the friend list of id. An empty cursor
// requests the first page.
func (c *Client) FriendsPage(ctx context.Context, id graph.NodeID, cursor string) (Page, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.cfg.PageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := strings.TrimSuffix(c.cfg.FriendsURL, "/") + "/v1/users/" + id.String() + "/friends?" + q.Encode()

	var res friendsResponse
	err := c.call(func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		if c.cfg.Credential != "" {
			req.AddCookie(&http.Cookie{Name: credentialCookie, Value: c.cfg.Credential})
		}
		return req, nil
	}, &res)
	if err != nil {
		return Page{}, xerrors.Errorf("friends of %d: %w", id, err)
	}

	page := Page{Friends: make(graph.EdgeList, 0, len(res.Data))}
	for _, f := range res.Data {
		page.Friends = append(page.Friends, graph.Friend{ID: f.ID, Handle: graph.Handle(f.Name)})
	}
	if res.NextPageCursor != nil {
		page.NextCursor = *res.NextPageCursor
	}
	return page, nil
}

// call performs a request, through the breaker if one is configured, and
// decodes a successful JSON body into out.
func (c *Client) call(newReq func() (*http.Request, error), out interface{}) error {
	do := func() (interface{}, error) {
		req, err := newReq()
		if err != nil {
			return nil, err
		}
		return nil, c.doAndDecode(req, out)
	}
	if c.breaker == nil {
		_, err := do()
		return err
	}
	_, err := c.breaker.Execute(do)
	return err
}

func (c *Client) doAndDecode(req *http.Request, out interface{}) error {
	res, err := c.doer.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(ioutil.Discard, res.Body)
		_ = res.Body.Close()
	}()

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		return ErrThrottled
	case res.StatusCode < 200 || res.StatusCode > 299:
		return &StatusError{StatusCode: res.StatusCode, URL: req.URL.Redacted()}
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return xerrors.Errorf("decode response: %w", err)
	}
	return nil
}
