package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/seabase/kiwi-relay/donation"
	"github.com/seabase/kiwi-relay/logging"
	"github.com/seabase/kiwi-relay/relay"
)

const (
	completionsPath = "/v1/chat/completions"
	imageURLFormat  = "https://image.pollinations.ai/prompt/%s?model=turbo&nologo=true"

	maxDonationBytes = 8 << 20
)

// Donations records donated transcripts.
type Donations interface {
	Donate(ctx context.Context, messages []json.RawMessage) (donation.Result, error)
}

// Handlers are the endpoints the server routes to. Donations may be nil,
// in which case /donate answers 404.
type Handlers struct {
	Completions http.Handler
	Socket      http.Handler
	Stats       func() relay.StatsSnapshot
	Donations   Donations
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("POST "+completionsPath, s.handlers.Completions)
	mux.HandleFunc("POST /chat/completions", redirectToCompletions)
	mux.HandleFunc("POST /openai/chat/completions", redirectToCompletions)

	mux.Handle("GET /socket", s.handlers.Socket)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /v1/chat/images/{description}", handleImage)

	if s.handlers.Donations != nil {
		mux.HandleFunc("POST /donate", s.handleDonate)
	}

	mux.Handle("/", s.fallback())
	return mux
}

func redirectToCompletions(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, completionsPath, http.StatusMovedPermanently)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func handleImage(w http.ResponseWriter, r *http.Request) {
	description := url.PathEscape(r.PathValue("description"))
	http.Redirect(w, r, fmt.Sprintf(imageURLFormat, description), http.StatusMovedPermanently)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.handlers.Stats())
}

func (s *Server) handleDonate(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxDonationBytes)
	messages, err := donation.DecodeMessages(body)
	if err != nil {
		s.logger.Debug().Err(err).Msg("rejected donation")
		WriteError(w, http.StatusBadRequest)
		return
	}

	result, err := s.handlers.Donations.Donate(r.Context(), messages)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to record donation")
		WriteError(w, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if result == donation.ResultDuplicate {
		_, _ = w.Write([]byte("duplicate skipped"))
		return
	}
	_, _ = w.Write([]byte("ok"))
}

// fallback serves the static directory when one is configured and answers
// the sanitized 404 for everything else.
func (s *Server) fallback() http.Handler {
	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Info().
			Str(logging.FieldMethod, r.Method).
			Str(logging.FieldPath, r.URL.Path).
			Msg("resource not found")
		WriteError(w, http.StatusNotFound)
	})

	if s.config.StaticDir == "" {
		return notFound
	}

	root := http.Dir(s.config.StaticDir)
	files := http.FileServer(root)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			notFound(w, r)
			return
		}
		if !s.staticExists(r.URL.Path) {
			notFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}

// staticExists reports whether urlPath names a file, or a directory with an
// index.html, under the static root.
func (s *Server) staticExists(urlPath string) bool {
	name := filepath.Join(s.config.StaticDir, filepath.FromSlash(filepath.Clean("/"+urlPath)))
	info, err := os.Stat(name)
	if err != nil {
		return false
	}
	if info.IsDir() {
		_, err = os.Stat(filepath.Join(name, "index.html"))
		return err == nil
	}
	return true
}
