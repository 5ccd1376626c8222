//go:build e2e

package e2e

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/syncclient/internal/store"
	"github.com/tonimelisma/syncclient/internal/sync"
	"github.com/tonimelisma/syncclient/internal/webdav"
)

const testToken = "e2e-token"

// remoteEntry is one resource held by the in-memory WebDAV fake.
type remoteEntry struct {
	data     []byte
	isDir    bool
	modified time.Time
	etag     string
}

// fakeDAV is an in-memory WebDAV server speaking just enough of the
// protocol for the full client/engine stack: PROPFIND with Depth 0/1,
// GET, PUT, MKCOL, DELETE, and HEAD, with Bearer auth and quoted ETags.
type fakeDAV struct {
	mu      stdsync.Mutex
	entries map[string]*remoteEntry
	etagSeq int

	// Optional PUT gating for concurrency tests: the first PUT closes
	// putStarted, then every PUT blocks until putRelease is closed.
	putStarted  chan struct{}
	putRelease  chan struct{}
	startedOnce stdsync.Once
}

func newFakeDAV() *fakeDAV {
	return &fakeDAV{
		entries: map[string]*remoteEntry{
			"/": {isDir: true, modified: time.Now().UTC()},
		},
	}
}

func (f *fakeDAV) nextETag() string {
	f.etagSeq++
	return fmt.Sprintf("e%d", f.etagSeq)
}

// putFileAt seeds a file (creating parent collections) with an explicit
// modification time, the way test scenarios pin remote state.
func (f *fakeDAV) putFileAt(path string, data []byte, modified time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ensureParentsLocked(path)
	f.entries[path] = &remoteEntry{data: append([]byte(nil), data...), modified: modified.UTC(), etag: f.nextETag()}
}

func (f *fakeDAV) mkdir(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ensureParentsLocked(path)
	f.entries[path] = &remoteEntry{isDir: true, modified: time.Now().UTC()}
}

func (f *fakeDAV) ensureParentsLocked(path string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 1; i < len(parts); i++ {
		dir := "/" + strings.Join(parts[:i], "/")
		if _, ok := f.entries[dir]; !ok {
			f.entries[dir] = &remoteEntry{isDir: true, modified: time.Now().UTC()}
		}
	}
}

// get returns a file's current bytes, or false when absent.
func (f *fakeDAV) get(path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[path]
	if !ok || e.isDir {
		return nil, false
	}

	return append([]byte(nil), e.data...), true
}

func (f *fakeDAV) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+testToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	path := r.URL.Path
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	switch r.Method {
	case "PROPFIND":
		f.handlePropfind(w, r, path)
	case http.MethodGet:
		f.handleGet(w, path)
	case http.MethodPut:
		f.handlePut(w, r, path)
	case "MKCOL":
		f.handleMkcol(w, path)
	case http.MethodDelete:
		f.handleDelete(w, path)
	case http.MethodHead:
		f.handleHead(w, path)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeDAV) handlePropfind(w http.ResponseWriter, r *http.Request, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	self, ok := f.entries[path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	paths := []string{path}

	if r.Header.Get("Depth") != "0" && self.isDir {
		prefix := path
		if prefix != "/" {
			prefix += "/"
		}

		for p := range f.entries {
			if p == path || !strings.HasPrefix(p, prefix) {
				continue
			}

			// Direct children only.
			if strings.Contains(p[len(prefix):], "/") {
				continue
			}

			paths = append(paths, p)
		}

		sort.Strings(paths[1:])
	}

	var b strings.Builder

	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString(`<D:multistatus xmlns:D="DAV:">`)

	for _, p := range paths {
		e := f.entries[p]

		b.WriteString("<D:response><D:href>" + p + "</D:href><D:propstat><D:prop>")

		if name := lastSegment(p); name != "" {
			b.WriteString("<D:displayname>" + name + "</D:displayname>")
		}

		if e.isDir {
			b.WriteString("<D:resourcetype><D:collection/></D:resourcetype>")
		} else {
			b.WriteString("<D:resourcetype/>")
			fmt.Fprintf(&b, "<D:getcontentlength>%d</D:getcontentlength>", len(e.data))
			b.WriteString(`<D:getetag>"` + e.etag + `"</D:getetag>`)
		}

		b.WriteString("<D:getlastmodified>" + e.modified.UTC().Format(http.TimeFormat) + "</D:getlastmodified>")
		b.WriteString("</D:prop><D:status>HTTP/1.1 200 OK</D:status></D:propstat></D:response>")
	}

	b.WriteString("</D:multistatus>")

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	io.WriteString(w, b.String())
}

func (f *fakeDAV) handleGet(w http.ResponseWriter, path string) {
	data, ok := f.get(path)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Write(data)
}

func (f *fakeDAV) handlePut(w http.ResponseWriter, r *http.Request, path string) {
	if f.putStarted != nil {
		f.startedOnce.Do(func() { close(f.putStarted) })
	}

	if f.putRelease != nil {
		<-f.putRelease
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	f.mu.Lock()

	// Strict like a real server: the parent collection must exist.
	if _, ok := f.entries[parentOf(path)]; !ok {
		f.mu.Unlock()
		w.WriteHeader(http.StatusConflict)

		return
	}

	entry := &remoteEntry{data: body, modified: time.Now().UTC(), etag: f.nextETag()}
	f.entries[path] = entry
	f.mu.Unlock()

	w.Header().Set("ETag", `"`+entry.etag+`"`)
	w.WriteHeader(http.StatusCreated)
}

// handleMkcol mirrors real-server MKCOL semantics: 405 when the
// collection already exists, 409 when the parent is missing.
func (f *fakeDAV) handleMkcol(w http.ResponseWriter, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.entries[path]; ok {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if _, ok := f.entries[parentOf(path)]; !ok {
		w.WriteHeader(http.StatusConflict)
		return
	}

	f.entries[path] = &remoteEntry{isDir: true, modified: time.Now().UTC()}

	w.WriteHeader(http.StatusCreated)
}

func parentOf(path string) string {
	idx := strings.LastIndex(strings.TrimSuffix(path, "/"), "/")
	if idx <= 0 {
		return "/"
	}

	return path[:idx]
}

func (f *fakeDAV) handleDelete(w http.ResponseWriter, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.entries[path]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	delete(f.entries, path)

	for p := range f.entries {
		if strings.HasPrefix(p, path+"/") {
			delete(f.entries, p)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeDAV) handleHead(w http.ResponseWriter, path string) {
	f.mu.Lock()
	_, ok := f.entries[path]
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func lastSegment(path string) string {
	path = strings.TrimSuffix(path, "/")

	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}

	return path[idx+1:]
}

// testEnv wires the full production stack against the fake server: a
// real SQLite state store, the WebDAV client, and a sync root on disk.
type testEnv struct {
	syncRoot string
	dav      *fakeDAV
	st       *store.Store
	client   *webdav.Client
	logger   *slog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dav := newFakeDAV()
	srv := httptest.NewServer(dav)
	t.Cleanup(srv.Close)

	return &testEnv{
		syncRoot: t.TempDir(),
		dav:      dav,
		st:       st,
		client:   webdav.New(srv.URL, "user", testToken, srv.Client(), logger),
		logger:   logger,
	}
}

func (e *testEnv) engine(cfg sync.EngineConfig) *sync.Engine {
	cfg.SyncRoot = e.syncRoot
	cfg.Client = e.client
	cfg.Store = e.st
	cfg.Logger = e.logger

	if cfg.MaxConcurrentTransfers == 0 {
		cfg.MaxConcurrentTransfers = 4
	}

	return sync.NewEngine(cfg)
}

func (e *testEnv) writeLocal(t *testing.T, rel string, data []byte) {
	t.Helper()

	p := filepath.Join(e.syncRoot, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o600))
}

func (e *testEnv) readLocal(t *testing.T, rel string) []byte {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(e.syncRoot, filepath.FromSlash(rel)))
	require.NoError(t, err)

	return data
}

func (e *testEnv) localPath(rel string) string {
	return filepath.Join(e.syncRoot, filepath.FromSlash(rel))
}
