package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/user/telterm/internal/bookmarks"
	"github.com/user/telterm/internal/db"
	"github.com/user/telterm/internal/deeplink"
	"github.com/user/telterm/internal/metrics"
	"github.com/user/telterm/internal/pty"
	"github.com/user/telterm/internal/session"
)

type fakeSessions struct {
	mu       sync.Mutex
	next     int
	startErr error
	sessions map[string]pty.SessionInfo
	writes   []string
	history  []*db.SessionLog
	filter   db.SessionLogFilter
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]pty.SessionInfo)}
}

func (f *fakeSessions) Start(_ context.Context, req pty.StartRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.next++
	id := fmt.Sprintf("s-%d", f.next)
	if req.Port == 0 {
		req.Port = pty.DefaultPort
	}
	f.sessions[id] = pty.SessionInfo{ID: id, Host: req.Host, Port: req.Port, Label: req.Label, Cols: req.Cols, Rows: req.Rows, Alive: true}
	return id, nil
}

func (f *fakeSessions) Write(id, data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return pty.ErrNotFound
	}
	f.writes = append(f.writes, id+":"+data)
	return nil
}

func (f *fakeSessions) Resize(id string, cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.sessions[id]
	if !ok {
		return pty.ErrNotFound
	}
	if cols < 1 || rows < 1 {
		return fmt.Errorf("%w: terminal size %dx%d out of range", pty.ErrInvalidRequest, cols, rows)
	}
	info.Cols, info.Rows = cols, rows
	f.sessions[id] = info
	return nil
}

func (f *fakeSessions) Kill(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return false
	}
	delete(f.sessions, id)
	return true
}

func (f *fakeSessions) Get(id string) (pty.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.sessions[id]
	if !ok {
		return pty.SessionInfo{}, pty.ErrNotFound
	}
	return info, nil
}

func (f *fakeSessions) ListSessions() []pty.SessionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []pty.SessionInfo{}
	for _, info := range f.sessions {
		out = append(out, info)
	}
	return out
}

func (f *fakeSessions) History(_ context.Context, filter db.SessionLogFilter) ([]*db.SessionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = filter
	return f.history, nil
}

type fakeNotifier struct {
	online    bool
	delivered [][]deeplink.Action
}

func (n *fakeNotifier) BroadcastActions(actions []deeplink.Action) bool {
	if !n.online {
		return false
	}
	n.delivered = append(n.delivered, actions)
	return true
}

type testAPI struct {
	handler  http.Handler
	sessions *fakeSessions
	store    *bookmarks.Store
	queue    *deeplink.Queue
	notifier *fakeNotifier
}

func openAPI(t *testing.T) *testAPI {
	t.Helper()
	store, err := bookmarks.NewStore(filepath.Join(t.TempDir(), "bookmarks"))
	if err != nil {
		t.Fatalf("bookmarks.NewStore() error = %v", err)
	}
	a := &testAPI{
		sessions: newFakeSessions(),
		store:    store,
		queue:    deeplink.NewQueue(),
		notifier: &fakeNotifier{},
	}
	a.handler = NewRouter(a.sessions, store, a.queue, a.notifier, "test-token")
	return a
}

func apiRequest(t *testing.T, h http.Handler, method, path string, body any, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer test-token")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if rr.Body.Len() == 0 {
		return
	}
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode body: %v body=%s", err, rr.Body.String())
	}
}

func TestAuthMiddleware(t *testing.T) {
	a := openAPI(t)
	unauth := apiRequest(t, a.handler, http.MethodGet, "/api/sessions", nil, false)
	if unauth.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want %d", unauth.Code, http.StatusUnauthorized)
	}
	wrong := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	wrong.Header.Set("Authorization", "Bearer wrong-token")
	wrongRR := httptest.NewRecorder()
	a.handler.ServeHTTP(wrongRR, wrong)
	if wrongRR.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status=%d want %d", wrongRR.Code, http.StatusUnauthorized)
	}
	query := apiRequest(t, a.handler, http.MethodGet, "/api/sessions?token=test-token", nil, false)
	if query.Code != http.StatusOK {
		t.Fatalf("query token status=%d want %d", query.Code, http.StatusOK)
	}
	auth := apiRequest(t, a.handler, http.MethodGet, "/api/sessions", nil, true)
	if auth.Code != http.StatusOK {
		t.Fatalf("status=%d want %d", auth.Code, http.StatusOK)
	}
	preflight := apiRequest(t, a.handler, http.MethodOptions, "/api/sessions", nil, false)
	if preflight.Code != http.StatusNoContent {
		t.Fatalf("preflight status=%d want %d", preflight.Code, http.StatusNoContent)
	}
}

func TestSessionLifecycle(t *testing.T) {
	a := openAPI(t)

	create := apiRequest(t, a.handler, http.MethodPost, "/api/sessions", map[string]any{
		"host": "example.com", "cols": 100, "rows": 30, "label": "Example",
	}, true)
	if create.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", create.Code, create.Body.String())
	}
	var info pty.SessionInfo
	decodeBody(t, create, &info)
	if info.ID == "" || info.Port != 23 || info.Label != "Example" {
		t.Fatalf("created session = %+v", info)
	}

	get := apiRequest(t, a.handler, http.MethodGet, "/api/sessions/"+info.ID, nil, true)
	if get.Code != http.StatusOK {
		t.Fatalf("get status=%d", get.Code)
	}

	write := apiRequest(t, a.handler, http.MethodPost, "/api/sessions/"+info.ID+"/input", map[string]any{"data": "look\r"}, true)
	if write.Code != http.StatusNoContent {
		t.Fatalf("write status=%d body=%s", write.Code, write.Body.String())
	}
	if len(a.sessions.writes) != 1 || a.sessions.writes[0] != info.ID+":look\r" {
		t.Fatalf("writes = %q", a.sessions.writes)
	}

	resize := apiRequest(t, a.handler, http.MethodPost, "/api/sessions/"+info.ID+"/resize", map[string]any{"cols": 132, "rows": 43}, true)
	if resize.Code != http.StatusNoContent {
		t.Fatalf("resize status=%d body=%s", resize.Code, resize.Body.String())
	}

	badResize := apiRequest(t, a.handler, http.MethodPost, "/api/sessions/"+info.ID+"/resize", map[string]any{"cols": 0, "rows": 43}, true)
	if badResize.Code != http.StatusBadRequest {
		t.Fatalf("bad resize status=%d want 400", badResize.Code)
	}

	list := apiRequest(t, a.handler, http.MethodGet, "/api/sessions", nil, true)
	var sessions []pty.SessionInfo
	decodeBody(t, list, &sessions)
	if len(sessions) != 1 || sessions[0].Cols != 132 {
		t.Fatalf("list = %+v", sessions)
	}

	kill := apiRequest(t, a.handler, http.MethodDelete, "/api/sessions/"+info.ID, nil, true)
	if kill.Code != http.StatusNoContent {
		t.Fatalf("kill status=%d", kill.Code)
	}
	for _, id := range []string{info.ID, "never-started"} {
		again := apiRequest(t, a.handler, http.MethodDelete, "/api/sessions/"+id, nil, true)
		if again.Code != http.StatusNoContent {
			t.Fatalf("kill of removed id %q status=%d want 204", id, again.Code)
		}
	}
	missing := apiRequest(t, a.handler, http.MethodPost, "/api/sessions/"+info.ID+"/input", map[string]any{"data": "x"}, true)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("write after kill status=%d want 404", missing.Code)
	}
}

func TestCreateSessionRejectsUnknownFields(t *testing.T) {
	a := openAPI(t)
	rr := apiRequest(t, a.handler, http.MethodPost, "/api/sessions", map[string]any{"host": "h", "shell": "bash"}, true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", rr.Code)
	}
}

func TestMapSessionError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: host is empty", pty.ErrInvalidRequest), http.StatusBadRequest},
		{pty.ErrNotFound, http.StatusNotFound},
		{pty.ErrRegistryClosed, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: openpty", pty.ErrAllocation), http.StatusBadGateway},
		{fmt.Errorf("%w: exec", pty.ErrSpawn), http.StatusBadGateway},
		{fmt.Errorf("%w: broken pipe", pty.ErrIO), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := mapSessionError(tt.err); got != tt.want {
			t.Errorf("mapSessionError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestStartFailureStatus(t *testing.T) {
	a := openAPI(t)
	a.sessions.startErr = fmt.Errorf("%w: exec telnet: not found", pty.ErrSpawn)
	rr := apiRequest(t, a.handler, http.MethodPost, "/api/sessions", map[string]any{"host": "example.com"}, true)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d want 502", rr.Code)
	}
	var body errorBody
	decodeBody(t, rr, &body)
	if body.Error == "" {
		t.Fatal("expected error message")
	}
}

func TestHistoryQuery(t *testing.T) {
	a := openAPI(t)
	a.sessions.history = []*db.SessionLog{{ID: "h1", Host: "example.com", Status: db.SessionStatusKilled}}

	rr := apiRequest(t, a.handler, http.MethodGet, "/api/history?status=killed&host=example.com&limit=10000", nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if a.sessions.filter.Status != db.SessionStatusKilled || a.sessions.filter.Host != "example.com" || a.sessions.filter.Limit != maxHistoryLimit {
		t.Fatalf("filter = %+v", a.sessions.filter)
	}
	var entries []db.SessionLog
	decodeBody(t, rr, &entries)
	if len(entries) != 1 || entries[0].ID != "h1" {
		t.Fatalf("entries = %+v", entries)
	}

	for _, q := range []string{"status=bogus", "limit=0", "limit=x"} {
		bad := apiRequest(t, a.handler, http.MethodGet, "/api/history?"+q, nil, true)
		if bad.Code != http.StatusBadRequest {
			t.Errorf("%s: status=%d want 400", q, bad.Code)
		}
	}
}

func TestBookmarkCRUDAndOpen(t *testing.T) {
	a := openAPI(t)

	list := apiRequest(t, a.handler, http.MethodGet, "/api/bookmarks", nil, true)
	var defaults []bookmarks.Bookmark
	decodeBody(t, list, &defaults)
	if len(defaults) == 0 {
		t.Fatal("expected shipped default bookmarks")
	}

	create := apiRequest(t, a.handler, http.MethodPut, "/api/bookmarks/retro-bbs", map[string]any{
		"host": "bbs.example.org", "port": 2323, "cols": 80, "rows": 25,
	}, true)
	if create.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", create.Code, create.Body.String())
	}
	var saved bookmarks.Bookmark
	decodeBody(t, create, &saved)
	if saved.ID != "retro-bbs" || saved.Label != "bbs.example.org" {
		t.Fatalf("saved = %+v", saved)
	}

	update := apiRequest(t, a.handler, http.MethodPut, "/api/bookmarks/retro-bbs", map[string]any{
		"id": "retro-bbs", "label": "Retro BBS", "host": "bbs.example.org", "port": 2323,
	}, true)
	if update.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", update.Code, update.Body.String())
	}

	mismatch := apiRequest(t, a.handler, http.MethodPut, "/api/bookmarks/retro-bbs", map[string]any{"id": "other", "host": "h"}, true)
	if mismatch.Code != http.StatusBadRequest {
		t.Fatalf("mismatch status=%d want 400", mismatch.Code)
	}
	invalid := apiRequest(t, a.handler, http.MethodPut, "/api/bookmarks/retro-bbs", map[string]any{"host": ""}, true)
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("invalid status=%d want 400", invalid.Code)
	}

	open := apiRequest(t, a.handler, http.MethodPost, "/api/bookmarks/retro-bbs/open", nil, true)
	if open.Code != http.StatusCreated {
		t.Fatalf("open status=%d body=%s", open.Code, open.Body.String())
	}
	var info pty.SessionInfo
	decodeBody(t, open, &info)
	if info.Host != "bbs.example.org" || info.Port != 2323 || info.Label != "Retro BBS" {
		t.Fatalf("opened session = %+v", info)
	}

	del := apiRequest(t, a.handler, http.MethodDelete, "/api/bookmarks/retro-bbs", nil, true)
	if del.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", del.Code)
	}
	get := apiRequest(t, a.handler, http.MethodGet, "/api/bookmarks/retro-bbs", nil, true)
	if get.Code != http.StatusNotFound {
		t.Fatalf("get after delete status=%d want 404", get.Code)
	}
	del = apiRequest(t, a.handler, http.MethodDelete, "/api/bookmarks/retro-bbs", nil, true)
	if del.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d want 404", del.Code)
	}
	openMissing := apiRequest(t, a.handler, http.MethodPost, "/api/bookmarks/retro-bbs/open", nil, true)
	if openMissing.Code != http.StatusNotFound {
		t.Fatalf("open missing status=%d want 404", openMissing.Code)
	}
}

func TestActionsQueueAndDelivery(t *testing.T) {
	a := openAPI(t)
	a.queue.Push(deeplink.FromArgs([]string{"telnet://towel.blinkenlights.nl"})...)

	pending := apiRequest(t, a.handler, http.MethodGet, "/api/actions/pending", nil, true)
	var actions []deeplink.Action
	decodeBody(t, pending, &actions)
	if len(actions) != 1 || actions[0].Request.Host != "towel.blinkenlights.nl" {
		t.Fatalf("pending = %+v", actions)
	}
	empty := apiRequest(t, a.handler, http.MethodGet, "/api/actions/pending", nil, true)
	if empty.Body.String() != "[]\n" {
		t.Fatalf("second poll = %q, want []", empty.Body.String())
	}

	push := apiRequest(t, a.handler, http.MethodPost, "/api/actions", map[string]any{"urls": []string{"telnet://a.example:2323", "not a url"}}, true)
	if push.Code != http.StatusAccepted {
		t.Fatalf("push status=%d body=%s", push.Code, push.Body.String())
	}
	var resp pushActionsResponse
	decodeBody(t, push, &resp)
	if resp.Accepted != 1 || resp.Delivered {
		t.Fatalf("push response = %+v", resp)
	}
	if a.queue.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", a.queue.Len())
	}

	a.notifier.online = true
	push = apiRequest(t, a.handler, http.MethodPost, "/api/actions", map[string]any{"urls": []string{"b.example"}}, true)
	decodeBody(t, push, &resp)
	if !resp.Delivered || len(a.notifier.delivered) != 1 || a.queue.Len() != 1 {
		t.Fatalf("delivered=%v notifier=%v queue=%d", resp.Delivered, a.notifier.delivered, a.queue.Len())
	}

	none := apiRequest(t, a.handler, http.MethodPost, "/api/actions", map[string]any{"urls": []string{""}}, true)
	if none.Code != http.StatusBadRequest {
		t.Fatalf("empty push status=%d want 400", none.Code)
	}
}

func TestRouterWithLiveSessions(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	mgr, err := pty.NewManager(pty.Options{Command: `sh -c 'stty -echo; exec cat'`})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(mgr.Close)

	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	svc := session.New(mgr, db.NewSessionLogRepo(database.SQL()), metrics.New(), session.Options{})
	mgr.SetEventHandler(svc.HandleEvent)
	h := NewRouter(svc, nil, nil, nil, "test-token")

	create := apiRequest(t, h, http.MethodPost, "/api/sessions", map[string]any{"host": "example.com"}, true)
	if create.Code != http.StatusCreated {
		t.Skipf("pty unavailable: status=%d body=%s", create.Code, create.Body.String())
	}
	var info pty.SessionInfo
	decodeBody(t, create, &info)

	kill := apiRequest(t, h, http.MethodDelete, "/api/sessions/"+info.ID, nil, true)
	if kill.Code != http.StatusNoContent {
		t.Fatalf("kill status=%d", kill.Code)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		rr := apiRequest(t, h, http.MethodGet, "/api/history?status=killed", nil, true)
		var entries []db.SessionLog
		decodeBody(t, rr, &entries)
		if len(entries) == 1 && entries[0].ID == info.ID {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("killed session missing from history: %s", rr.Body.String())
		}
		time.Sleep(20 * time.Millisecond)
	}

	noBookmarks := apiRequest(t, h, http.MethodGet, "/api/bookmarks", nil, true)
	if noBookmarks.Code != http.StatusInternalServerError {
		t.Fatalf("bookmarks without store status=%d want 500", noBookmarks.Code)
	}
}
