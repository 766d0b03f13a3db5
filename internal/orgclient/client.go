// Package orgclient calls the org service's internal member lookup with
// signed requests.
package orgclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trustline/trustline/internal/model"
	"github.com/trustline/trustline/internal/signature"
)

const (
	// DefaultConnectTimeout bounds connection setup.
	DefaultConnectTimeout = 3050 * time.Millisecond
	// DefaultReadTimeout bounds the wait for the response.
	DefaultReadTimeout = 27 * time.Second

	maxResponseBytes = 1 << 20
	lookupPath       = "/internal/users/"
)

var (
	// ErrMemberNotFound means the org service has no member for the email.
	ErrMemberNotFound = errors.New("member not found")
	// ErrUnavailable covers timeouts, connection failures, unexpected
	// statuses and undecodable payloads.
	ErrUnavailable = errors.New("org service unavailable")
)

// Config holds client settings.
type Config struct {
	BaseURL        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// Client is the auth service's view of the org directory.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client that signs every request with signer.
func New(cfg Config, signer *signature.Signer, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid org service URL %q", cfg.BaseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    base,
		httpClient: NewHTTPClient(cfg.ConnectTimeout, cfg.ReadTimeout, signer),
		logger:     logger,
	}, nil
}

// NewHTTPClient builds an http.Client with split connect/read timeouts and
// a signing transport. It does not follow redirects.
func NewHTTPClient(connect, read time.Duration, signer *signature.Signer) *http.Client {
	if connect <= 0 {
		connect = DefaultConnectTimeout
	}
	if read <= 0 {
		read = DefaultReadTimeout
	}

	base := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: read,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}

	return &http.Client{
		Timeout:   connect + read,
		Transport: signature.NewTransport(base, signer),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// LookupMember fetches the internal member record for email.
// No retries; each call is one request.
func (c *Client) LookupMember(ctx context.Context, email string) (*model.MemberInfo, error) {
	target := c.baseURL.JoinPath(lookupPath, url.PathEscape(email))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("org lookup failed",
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("org lookup completed",
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		drain(resp.Body)
		return nil, ErrMemberNotFound
	default:
		drain(resp.Body)
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	var info model.MemberInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
	}
	if info.UserID == "" || info.OrgID == "" || info.Role == "" {
		return nil, fmt.Errorf("%w: incomplete member record", ErrUnavailable)
	}
	return &info, nil
}

func drain(body io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxResponseBytes))
}
