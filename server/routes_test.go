//go:build test

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/seabase/kiwi-relay/donation"
	"github.com/seabase/kiwi-relay/relay"
)

type fakeDonations struct {
	mu       sync.Mutex
	result   donation.Result
	err      error
	received [][]json.RawMessage
}

func (f *fakeDonations) Donate(_ context.Context, messages []json.RawMessage) (donation.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, messages)
	return f.result, f.err
}

func marker(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(name))
	})
}

func newTestServer(t *testing.T, config Config, donations Donations) *httptest.Server {
	t.Helper()
	handlers := Handlers{
		Completions: marker("completions"),
		Socket:      marker("socket"),
		Stats: func() relay.StatsSnapshot {
			return relay.StatsSnapshot{
				ConnectedUsers:       2,
				TotalHandledMessages: 7,
				AverageMessageLength: 41,
				ServerUptime:         90,
			}
		},
		Donations: donations,
	}
	srv := httptest.NewServer(New(zerolog.Nop(), config, handlers, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func do(t *testing.T, client *http.Client, method, url, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestRoutes_Dispatch(t *testing.T) {
	srv := newTestServer(t, Config{}, nil)

	_, body := do(t, srv.Client(), http.MethodPost, srv.URL+"/v1/chat/completions", `{}`)
	require.Equal(t, "completions", body)

	_, body = do(t, srv.Client(), http.MethodGet, srv.URL+"/socket?key=abc", "")
	require.Equal(t, "socket", body)

	resp, body := do(t, srv.Client(), http.MethodGet, srv.URL+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body)
}

func TestRoutes_Stats(t *testing.T) {
	srv := newTestServer(t, Config{}, nil)

	resp, body := do(t, srv.Client(), http.MethodGet, srv.URL+"/api/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.JSONEq(t, `{
		"connected_users": 2,
		"total_handled_messages": 7,
		"average_message_length": 41,
		"server_uptime": 90
	}`, body)
}

func TestRoutes_Redirects(t *testing.T) {
	srv := newTestServer(t, Config{}, nil)
	client := noRedirectClient()

	for _, path := range []string{"/chat/completions", "/openai/chat/completions"} {
		resp, _ := do(t, client, http.MethodPost, srv.URL+path, `{}`)
		require.Equal(t, http.StatusMovedPermanently, resp.StatusCode, path)
		require.Equal(t, "/v1/chat/completions", resp.Header.Get("Location"), path)
	}

	resp, _ := do(t, client, http.MethodGet, srv.URL+"/v1/chat/images/a%20red%20fox", "")
	require.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	require.Equal(t,
		"https://image.pollinations.ai/prompt/a%20red%20fox?model=turbo&nologo=true",
		resp.Header.Get("Location"))
}

func TestRoutes_NotFound(t *testing.T) {
	srv := newTestServer(t, Config{}, nil)

	for _, tt := range []struct{ method, path string }{
		{http.MethodGet, "/nope"},
		{http.MethodPost, "/api/stats"},
		{http.MethodGet, "/v1/chat/completions"},
		{http.MethodPost, "/donate"},
	} {
		resp, body := do(t, srv.Client(), tt.method, srv.URL+tt.path, "")
		require.Equal(t, http.StatusNotFound, resp.StatusCode, tt.path)
		require.JSONEq(t, `{"error":true,"message":"Resource not found","statusCode":404}`, body, tt.path)
	}
}

func TestRoutes_Donate(t *testing.T) {
	donations := &fakeDonations{result: donation.ResultStored}
	srv := newTestServer(t, Config{}, donations)

	resp, body := do(t, srv.Client(), http.MethodPost, srv.URL+"/donate",
		`{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body)

	donations.result = donation.ResultDuplicate
	_, body = do(t, srv.Client(), http.MethodPost, srv.URL+"/donate",
		`{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, "duplicate skipped", body)

	require.Len(t, donations.received, 2)
	require.JSONEq(t, `{"role":"user","content":"hi"}`, string(donations.received[0][0]))
}

func TestRoutes_DonateErrors(t *testing.T) {
	donations := &fakeDonations{}
	srv := newTestServer(t, Config{}, donations)

	resp, body := do(t, srv.Client(), http.MethodPost, srv.URL+"/donate", `{"messages":"hi"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.JSONEq(t, `{"error":true,"message":"Bad request","statusCode":400}`, body)
	require.Empty(t, donations.received)

	donations.err = errors.New("disk full at /var/lib/kiwi")
	resp, body = do(t, srv.Client(), http.MethodPost, srv.URL+"/donate", `{"messages":[]}`)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.NotContains(t, body, "disk full")
	require.JSONEq(t, `{"error":true,"message":"Internal server error","statusCode":500}`, body)
}

func TestRoutes_StaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>kiwi</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))

	srv := newTestServer(t, Config{StaticDir: dir}, nil)

	resp, body := do(t, srv.Client(), http.MethodGet, srv.URL+"/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<h1>kiwi</h1>", body)

	_, body = do(t, srv.Client(), http.MethodGet, srv.URL+"/app.js", "")
	require.Equal(t, "console.log(1)", body)

	resp, _ = do(t, srv.Client(), http.MethodGet, srv.URL+"/missing.css", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, srv.Client(), http.MethodGet, srv.URL+"/../../etc/passwd", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRoutes_CORS(t *testing.T) {
	srv := newTestServer(t, Config{}, nil)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/v1/chat/completions", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://chat.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "authorization,content-type")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "https://chat.example", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	req, err = http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://other.example")
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, "https://other.example", resp.Header.Get("Access-Control-Allow-Origin"))
}
