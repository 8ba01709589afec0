package cbf

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bid-monitor/internal/bid"
)

var pngStub = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

type registry struct {
	*httptest.Server
	searches atomic.Int32
}

func newRegistry(t *testing.T, searchStatus int, searchBody string) *registry {
	t.Helper()
	reg := &registry{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><meta name="csrf-token" content="tok-123"></head><body></body></html>`))
	})
	mux.HandleFunc("/get-captcha-base64", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "abc" {
			http.Error(w, "no session", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"captcha":"data:image/png;base64,` + base64.StdEncoding.EncodeToString(pngStub) + `"}`))
	})
	mux.HandleFunc("/busca-json", func(w http.ResponseWriter, r *http.Request) {
		reg.searches.Add(1)
		if c, err := r.Cookie("session"); err != nil || c.Value != "abc" {
			http.Error(w, "no session", http.StatusForbidden)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("_token") != "tok-123" || r.Header.Get("X-CSRF-TOKEN") != "tok-123" {
			http.Error(w, "bad token", http.StatusUnprocessableEntity)
			return
		}
		if r.PostForm.Get("data") != "01/02/2024" || r.PostForm.Get("captcha") != "AB12" {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		w.WriteHeader(searchStatus)
		_, _ = w.Write([]byte(searchBody))
	})
	reg.Server = httptest.NewServer(mux)
	t.Cleanup(reg.Close)
	return reg
}

func newClient(t *testing.T, baseURL string, limiter Limiter) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:     baseURL + "/",
		TokenPath:   "/",
		CaptchaPath: "/get-captcha-base64",
		SearchPath:  "busca-json",
		Timeout:     2 * time.Second,
	}, limiter, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewRequiresBaseURL(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, nil, nil)
	require.Error(t, err)
}

func TestSessionRoundTrip(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, http.StatusOK, `[{"nome":"A"}]`)
	c := newClient(t, reg.URL, nil)
	ctx := context.Background()

	token, err := c.AcquireToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "tok-123", token)

	img, err := c.FetchChallenge(ctx)
	require.NoError(t, err)
	require.Equal(t, pngStub, img)

	resp, err := c.Submit(ctx, token, "AB12", "01/02/2024")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `[{"nome":"A"}]`, string(resp.Body))
	require.False(t, resp.IsCaptchaRejection())
}

func TestSubmitCaptchaRejectionIsNotAnError(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, http.StatusUnprocessableEntity, `{"message":"Captcha inválido"}`)
	c := newClient(t, reg.URL, nil)
	ctx := context.Background()

	token, err := c.AcquireToken(ctx)
	require.NoError(t, err)
	resp, err := c.Submit(ctx, token, "AB12", "01/02/2024")
	require.NoError(t, err)
	require.True(t, resp.IsCaptchaRejection())
}

func TestSubmitServerErrorIsAnError(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, http.StatusInternalServerError, `oops`)
	c := newClient(t, reg.URL, nil)
	ctx := context.Background()

	token, err := c.AcquireToken(ctx)
	require.NoError(t, err)
	_, err = c.Submit(ctx, token, "AB12", "01/02/2024")
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 500")
}

func TestAcquireTokenFromHiddenInput(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<form><input type="hidden" name="_token" value=" hidden-tok "></form>`))
	}))
	t.Cleanup(srv.Close)

	token, err := newClient(t, srv.URL, nil).AcquireToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hidden-tok", token)
}

func TestAcquireTokenMissing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>maintenance</body></html>`))
	}))
	t.Cleanup(srv.Close)

	_, err := newClient(t, srv.URL, nil).AcquireToken(context.Background())
	require.ErrorIs(t, err, ErrNoToken)
}

func TestAcquireTokenErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	_, err := newClient(t, srv.URL, nil).AcquireToken(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 503")
}

type denyLimiter struct{ calls int }

func (l *denyLimiter) Wait(context.Context, string) error {
	l.calls++
	return errors.New("limited")
}

func TestLimiterErrorStopsRequest(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, http.StatusOK, `[]`)
	lim := &denyLimiter{}
	c := newClient(t, reg.URL, lim)

	_, err := c.Submit(context.Background(), "t", "AB12", "01/02/2024")
	require.ErrorContains(t, err, "limited")
	require.Equal(t, 1, lim.calls)
	require.Zero(t, reg.searches.Load())
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-block
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newClient(t, srv.URL, nil).FetchChallenge(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDecodeChallenge(t *testing.T) {
	t.Parallel()

	encoded := base64.StdEncoding.EncodeToString(pngStub)
	tests := []struct {
		name    string
		body    string
		want    []byte
		wantErr bool
	}{
		{"raw bytes", string(pngStub), pngStub, false},
		{"data uri", "data:image/png;base64," + encoded, pngStub, false},
		{"json image field", `{"image":"` + encoded + `"}`, pngStub, false},
		{"json string", `"data:image/png;base64,` + encoded + `"`, pngStub, false},
		{"json without image", `{"ok":true}`, nil, true},
		{"bad base64", `{"captcha":"***"}`, nil, true},
		{"empty", "  ", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := decodeChallenge([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

type stubHooks struct {
	request  colly.RequestCallback
	response colly.ResponseCallback
	err      colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.request = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.response = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.err = cb }

func TestConfigureHooksCapturesResponseAndError(t *testing.T) {
	t.Parallel()

	c := newClient(t, "http://registry.test", nil)
	c.token = "tok"

	hooks := &stubHooks{}
	var (
		resp     bid.SearchResponse
		fetchErr error
	)
	c.configureHooks(hooks, &resp, &fetchErr)

	hdr := http.Header{}
	hooks.request(&colly.Request{Headers: &hdr})
	require.Equal(t, "tok", hdr.Get("X-CSRF-TOKEN"))
	require.Equal(t, "XMLHttpRequest", hdr.Get("X-Requested-With"))

	hooks.response(&colly.Response{StatusCode: 200, Body: []byte("ok")})
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, "ok", string(resp.Body))

	hooks.err(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}
