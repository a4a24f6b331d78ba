package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/timskillet/p2pshare/internal/client"
	"github.com/timskillet/p2pshare/internal/dynamodb"
	"github.com/timskillet/p2pshare/internal/types"
)

type fakeCatalog struct {
	records []types.FileRecord
	dirs    []string
}

func (c *fakeCatalog) List(dir string) []types.FileRecord {
	c.dirs = append(c.dirs, dir)
	if c.records == nil {
		return []types.FileRecord{}
	}
	return c.records
}

type downloadCall struct {
	host, filename, output string
}

type fakeDownloader struct {
	calls []downloadCall
	err   error
}

func (d *fakeDownloader) DownloadFromPeer(ctx context.Context, host, filename, outputPath string) (*types.DownloadResult, error) {
	d.calls = append(d.calls, downloadCall{host, filename, outputPath})
	result := &types.DownloadResult{Filename: filename, SourceHost: client.NormalizeHost(host)}
	if d.err != nil {
		result.Reason = d.err.Error()
		return result, d.err
	}
	result.Success = true
	return result, nil
}

type fakeDirectory struct {
	peers   []*dynamodb.PeerInfo
	holders map[string][]*dynamodb.FileAvailability
	err     error
}

func (d *fakeDirectory) ListPeers(ctx context.Context) ([]*dynamodb.PeerInfo, error) {
	return d.peers, d.err
}

func (d *fakeDirectory) FileHolders(ctx context.Context, digest string) ([]*dynamodb.FileAvailability, error) {
	return d.holders[digest], d.err
}

func newTestServer(t *testing.T) (*Server, *fakeCatalog, *fakeDownloader) {
	t.Helper()
	cat := &fakeCatalog{}
	dl := &fakeDownloader{}
	s := NewServer(Options{
		NodeID:      "node-1",
		PeerPort:    8080,
		ShareDir:    "/srv/share",
		DownloadDir: t.TempDir(),
	}, cat, dl, zaptest.NewLogger(t))
	return s, cat, dl
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func TestStatus(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s.Handler(), http.MethodGet, "/api/status", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp StatusResponse
	decode(t, w, &resp)
	if resp.Status != "running" || resp.NodeID != "node-1" || resp.PeerPort != 8080 {
		t.Errorf("unexpected status %+v", resp)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestFiles(t *testing.T) {
	s, cat, _ := newTestServer(t)
	cat.records = []types.FileRecord{
		{DisplayName: "a.txt", AbsolutePath: "/srv/share/a.txt", SizeBytes: 5, ContentDigest: "abc", ModifiedAt: time.Unix(1, 0)},
	}

	w := do(t, s.Handler(), http.MethodGet, "/api/files", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "/srv/share/a.txt") {
		t.Error("absolute path must not be exposed")
	}

	var resp struct {
		Files []map[string]any `json:"files"`
		Count int              `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 1 || resp.Files[0]["name"] != "a.txt" || resp.Files[0]["hash"] != "abc" {
		t.Errorf("unexpected files response %+v", resp)
	}
	if len(cat.dirs) != 1 || cat.dirs[0] != "/srv/share" {
		t.Errorf("expected a rescan of the share dir, got %v", cat.dirs)
	}
}

func TestFiles_EmptyIsArray(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s.Handler(), http.MethodGet, "/api/files", "")
	if !strings.Contains(w.Body.String(), `"files":[]`) {
		t.Errorf("expected empty array, got %s", w.Body.String())
	}
}

func TestDownload(t *testing.T) {
	s, _, dl := newTestServer(t)
	body := `{"filename":"movie.mp4","peers":["192.168.1.20","192.168.1.21"]}`

	w := do(t, s.Handler(), http.MethodPost, "/api/download", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(dl.calls) != 1 {
		t.Fatalf("expected one download, got %d", len(dl.calls))
	}
	call := dl.calls[0]
	if call.host != "192.168.1.20" || call.filename != "movie.mp4" {
		t.Errorf("unexpected call %+v", call)
	}
	if filepath.Base(call.output) != "movie.mp4" || filepath.Dir(call.output) != s.opts.DownloadDir {
		t.Errorf("unexpected output path %s", call.output)
	}

	var result types.DownloadResult
	decode(t, w, &result)
	if !result.Success || result.SourceHost != "192.168.1.20" {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestDownload_AlternateHostFields(t *testing.T) {
	for _, body := range []string{
		`{"filename":"a","peer_url":"http://10.0.0.9:8000"}`,
		`{"filename":"a","host":"10.0.0.9"}`,
		`{"filename":"a","peers":[""],"host":"10.0.0.9"}`,
	} {
		s, _, dl := newTestServer(t)
		w := do(t, s.Handler(), http.MethodPost, "/api/download", body)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", body, w.Code)
		}
		if got := client.NormalizeHost(dl.calls[0].host); got != "10.0.0.9" {
			t.Errorf("%s: expected host 10.0.0.9, got %s", body, got)
		}
	}
}

func TestDownload_OutputStaysInDownloadDir(t *testing.T) {
	s, _, dl := newTestServer(t)
	w := do(t, s.Handler(), http.MethodPost, "/api/download", `{"filename":"../../etc/passwd","host":"h"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := dl.calls[0].output; filepath.Dir(got) != s.opts.DownloadDir {
		t.Errorf("output escaped download dir: %s", got)
	}
}

func TestDownload_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"filename":`, http.StatusBadRequest},
		{"no filename", `{"peers":["h"]}`, http.StatusBadRequest},
		{"no peer", `{"filename":"a"}`, http.StatusBadRequest},
		{"too large", `{"filename":"` + strings.Repeat("x", maxDownloadBody) + `","host":"h"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, dl := newTestServer(t)
			w := do(t, s.Handler(), http.MethodPost, "/api/download", tt.body)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
			if len(dl.calls) != 0 {
				t.Error("downloader must not be called")
			}
		})
	}
}

func TestDownload_FailureStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", client.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: x", client.ErrConnection), http.StatusBadGateway},
		{fmt.Errorf("%w: x", client.ErrProtocol), http.StatusBadGateway},
		{fmt.Errorf("%w: x", client.ErrIntegrity), http.StatusBadGateway},
		{fmt.Errorf("%w: x", client.ErrIO), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		s, _, dl := newTestServer(t)
		dl.err = tt.err
		w := do(t, s.Handler(), http.MethodPost, "/api/download", `{"filename":"a","host":"h"}`)
		if w.Code != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, w.Code)
		}
		var result types.DownloadResult
		decode(t, w, &result)
		if result.Success || result.Reason == "" {
			t.Errorf("%v: expected failure with reason, got %+v", tt.err, result)
		}
	}
}

func TestPeers_WithoutDirectory(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s.Handler(), http.MethodGet, "/api/peers", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"peers":[]`) {
		t.Errorf("expected empty peers, got %s", w.Body.String())
	}
}

func TestPeersAndHolders(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.SetDirectory(&fakeDirectory{
		peers: []*dynamodb.PeerInfo{{NodeID: "n2", Address: "10.0.0.2", PeerPort: 9000}},
		holders: map[string][]*dynamodb.FileAvailability{
			"abc": {{ContentDigest: "abc", NodeID: "n2", Name: "a.txt"}},
		},
	})
	h := s.Handler()

	var peers PeersResponse
	decode(t, do(t, h, http.MethodGet, "/api/peers", ""), &peers)
	if peers.Count != 1 || peers.Peers[0].NodeID != "n2" {
		t.Errorf("unexpected peers %+v", peers)
	}

	var holders HoldersResponse
	decode(t, do(t, h, http.MethodGet, "/api/files/ABC/peers", ""), &holders)
	if holders.Hash != "abc" || holders.Count != 1 || holders.Peers[0].Name != "a.txt" {
		t.Errorf("unexpected holders %+v", holders)
	}

	decode(t, do(t, h, http.MethodGet, "/api/files/zzz/peers", ""), &holders)
	if holders.Count != 0 || holders.Peers == nil {
		t.Errorf("expected empty holder list, got %+v", holders)
	}
}

func TestPeers_RegistryError(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.SetDirectory(&fakeDirectory{err: errors.New("throttled")})
	if w := do(t, s.Handler(), http.MethodGet, "/api/peers", ""); w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

func TestCORSAndUnknownRoutes(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Handler()

	w := do(t, h, http.MethodOptions, "/api/download", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS origin header")
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, PUT, DELETE, OPTIONS" {
		t.Errorf("unexpected allowed methods %q", got)
	}

	for _, path := range []string{"/nope", "/api/unknown"} {
		w = do(t, h, http.MethodGet, path, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, w.Code)
		}
		if !bytes.Contains(w.Body.Bytes(), []byte("API endpoint not found")) {
			t.Errorf("%s: unexpected body %s", path, w.Body.String())
		}
		if w.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Errorf("%s: expected CORS header on error", path)
		}
	}
}

func TestHTTPService_ServeAndShutdown(t *testing.T) {
	s, _, _ := newTestServer(t)
	svc := NewHTTPService("api", "127.0.0.1:0", s.Handler(), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for svc.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("service did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + svc.Addr().String() + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
