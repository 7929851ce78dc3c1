package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/user/telterm/internal/bookmarks"
	"github.com/user/telterm/internal/db"
	"github.com/user/telterm/internal/deeplink"
	"github.com/user/telterm/internal/pty"
)

type sessionService interface {
	Start(ctx context.Context, req pty.StartRequest) (string, error)
	Write(id, data string) error
	Resize(id string, cols, rows int) error
	Kill(id string) bool
	Get(id string) (pty.SessionInfo, error)
	ListSessions() []pty.SessionInfo
	History(ctx context.Context, filter db.SessionLogFilter) ([]*db.SessionLog, error)
}

// actionNotifier delivers telnet:// requests to connected front ends and
// reports whether anyone received them.
type actionNotifier interface {
	BroadcastActions(actions []deeplink.Action) bool
}

type handler struct {
	sessions  sessionService
	bookmarks *bookmarks.Store
	actions   *deeplink.Queue
	notifier  actionNotifier
}

func NewRouter(sessions sessionService, store *bookmarks.Store, actions *deeplink.Queue, notifier actionNotifier, token string) http.Handler {
	if actions == nil {
		actions = deeplink.NewQueue()
	}
	handler := &handler{
		sessions:  sessions,
		bookmarks: store,
		actions:   actions,
		notifier:  notifier,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", handler.createSession)
	mux.HandleFunc("GET /api/sessions", handler.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", handler.getSession)
	mux.HandleFunc("POST /api/sessions/{id}/input", handler.writeSession)
	mux.HandleFunc("POST /api/sessions/{id}/resize", handler.resizeSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", handler.killSession)

	mux.HandleFunc("GET /api/history", handler.listHistory)

	mux.HandleFunc("GET /api/bookmarks", handler.listBookmarks)
	mux.HandleFunc("GET /api/bookmarks/{id}", handler.getBookmark)
	mux.HandleFunc("PUT /api/bookmarks/{id}", handler.saveBookmark)
	mux.HandleFunc("DELETE /api/bookmarks/{id}", handler.deleteBookmark)
	mux.HandleFunc("POST /api/bookmarks/{id}/open", handler.openBookmark)

	mux.HandleFunc("GET /api/actions/pending", handler.consumeActions)
	mux.HandleFunc("POST /api/actions", handler.pushActions)

	wrapped := authMiddleware(token)(jsonMiddleware(corsMiddleware(mux)))
	return wrapped
}

func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				if strings.TrimSpace(authHeader[7:]) == token {
					next.ServeHTTP(w, r)
					return
				}
			}

			if r.URL.Query().Get("token") == token {
				next.ServeHTTP(w, r)
				return
			}

			jsonError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return io.ErrUnexpectedEOF
	}
	return nil
}
