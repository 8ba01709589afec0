// Package cbf talks to the BID contract registry: session token, CAPTCHA
// image and the date search. All requests share one cookie jar so the
// CAPTCHA stays bound to the session that requested it.
package cbf

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/bid-monitor/internal/bid"
)

// ErrNoToken is returned when the landing page carries no CSRF token.
var ErrNoToken = errors.New("csrf token not found")

// FormFields names the search form parameters.
type FormFields struct {
	Token   string
	Captcha string
	Date    string
}

// Config controls the registry endpoints.
type Config struct {
	BaseURL     string
	TokenPath   string
	CaptchaPath string
	SearchPath  string
	UserAgent   string
	Timeout     time.Duration
	Fields      FormFields
}

// Limiter throttles outgoing requests.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Client implements bid.SessionProvider, bid.ChallengeSource and bid.Searcher.
type Client struct {
	cfg     Config
	base    *colly.Collector
	limiter Limiter
	logger  *zap.Logger

	token string
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Client. limiter may be nil.
func New(cfg Config, limiter Limiter, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Fields.Token == "" {
		cfg.Fields.Token = "_token"
	}
	if cfg.Fields.Captcha == "" {
		cfg.Fields.Captcha = "captcha"
	}
	if cfg.Fields.Date == "" {
		cfg.Fields.Date = "data"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.ParseHTTPErrorResponse = true
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(newHTTPTransport())

	return &Client{
		cfg:     cfg,
		base:    c,
		limiter: limiter,
		logger:  logger.Named("cbf"),
	}, nil
}

// AcquireToken loads the landing page and extracts the CSRF token from the
// csrf-token meta tag or the hidden _token input.
func (c *Client) AcquireToken(ctx context.Context) (string, error) {
	collector := c.base.Clone()
	var token string
	collector.OnHTML(`meta[name="csrf-token"]`, func(e *colly.HTMLElement) {
		if token == "" {
			token = strings.TrimSpace(e.Attr("content"))
		}
	})
	collector.OnHTML(`input[name="`+c.cfg.Fields.Token+`"]`, func(e *colly.HTMLElement) {
		if token == "" {
			token = strings.TrimSpace(e.Attr("value"))
		}
	})

	resp, err := c.do(ctx, collector, http.MethodGet, c.url(c.cfg.TokenPath), nil)
	if err != nil {
		return "", fmt.Errorf("load landing page: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("load landing page: status %d", resp.StatusCode)
	}
	if token == "" {
		return "", ErrNoToken
	}
	c.token = token
	c.logger.Debug("csrf token acquired")
	return token, nil
}

// FetchChallenge downloads the CAPTCHA image bound to the session.
func (c *Client) FetchChallenge(ctx context.Context) ([]byte, error) {
	resp, err := c.do(ctx, c.base.Clone(), http.MethodGet, c.url(c.cfg.CaptchaPath), nil)
	if err != nil {
		return nil, fmt.Errorf("download captcha: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("download captcha: status %d", resp.StatusCode)
	}
	img, err := decodeChallenge(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(img) == 0 {
		return nil, fmt.Errorf("download captcha: empty image")
	}
	return img, nil
}

// Submit posts the search form. Error statuses are returned as errors unless
// the body reports a CAPTCHA rejection.
func (c *Client) Submit(ctx context.Context, token, captcha, date string) (bid.SearchResponse, error) {
	form := map[string]string{
		c.cfg.Fields.Token:   token,
		c.cfg.Fields.Captcha: captcha,
		c.cfg.Fields.Date:    date,
	}
	resp, err := c.do(ctx, c.base.Clone(), http.MethodPost, c.url(c.cfg.SearchPath), form)
	if err != nil {
		return bid.SearchResponse{}, fmt.Errorf("search: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest && !resp.IsCaptchaRejection() {
		return bid.SearchResponse{}, fmt.Errorf("search: status %d", resp.StatusCode)
	}
	return resp, nil
}

func (c *Client) url(path string) string {
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.cfg.BaseURL + path
}

func (c *Client) do(
	ctx context.Context,
	collector *colly.Collector,
	method, url string,
	form map[string]string,
) (bid.SearchResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, url); err != nil {
			return bid.SearchResponse{}, err
		}
	}

	var (
		result   bid.SearchResponse
		fetchErr error
	)
	c.configureHooks(collector, &result, &fetchErr)

	done := make(chan error, 1)
	go func() {
		if method == http.MethodPost {
			done <- collector.Post(url, form)
			return
		}
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return bid.SearchResponse{}, fmt.Errorf("request canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return bid.SearchResponse{}, fmt.Errorf("%s %s: %w", method, url, err)
		}
		if fetchErr != nil {
			return bid.SearchResponse{}, fmt.Errorf("%s %s: %w", method, url, fetchErr)
		}
		return result, nil
	}
}

func (c *Client) configureHooks(hooks collectorHooks, result *bid.SearchResponse, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Referer", c.url(c.cfg.TokenPath))
		r.Headers.Set("X-Requested-With", "XMLHttpRequest")
		if c.token != "" {
			r.Headers.Set("X-CSRF-TOKEN", c.token)
		}
	})
	hooks.OnResponse(func(r *colly.Response) {
		*result = bid.SearchResponse{
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

// decodeChallenge accepts raw image bytes, a data URI, or a JSON object
// carrying a base64 image in one of its string fields.
func decodeChallenge(body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) == 0:
		return nil, nil
	case trimmed[0] == '{':
		var payload map[string]any
		if err := json.Unmarshal(trimmed, &payload); err != nil {
			return nil, fmt.Errorf("decode captcha json: %w", err)
		}
		for _, key := range []string{"captcha", "image", "img", "data", "base64"} {
			if s, ok := payload[key].(string); ok && s != "" {
				return decodeBase64Image(s)
			}
		}
		return nil, fmt.Errorf("decode captcha json: no image field")
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("decode captcha string: %w", err)
		}
		return decodeBase64Image(s)
	case bytes.HasPrefix(trimmed, []byte("data:image/")):
		return decodeBase64Image(string(trimmed))
	default:
		return body, nil
	}
}

func decodeBase64Image(s string) ([]byte, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	img, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode captcha base64: %w", err)
	}
	return img, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
