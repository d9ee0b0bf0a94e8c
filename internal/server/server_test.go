package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/plantai-go/internal/ingestion"
	"github.com/54b3r/plantai-go/internal/rag"
	"github.com/54b3r/plantai-go/internal/sharepoint"
)

const testKey = "s3cret"

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeIngester records each run and snapshots the files under root, since
// staged directories are removed once the handler returns.
type fakeIngester struct {
	stats ingestion.Stats
	err   error

	mu    sync.Mutex
	calls []ingestCall
}

type ingestCall struct {
	root  string
	opts  ingestion.Options
	files map[string]string
}

func (f *fakeIngester) Ingest(_ context.Context, root string, opts ingestion.Options) (ingestion.Stats, error) {
	files := map[string]string{}
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		b, _ := os.ReadFile(path)
		files[filepath.ToSlash(rel)] = string(b)
		return nil
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ingestCall{root: root, opts: opts, files: files})
	return f.stats, f.err
}

func (f *fakeIngester) Calls() []ingestCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ingestCall(nil), f.calls...)
}

type fakeRetriever struct {
	hits []rag.Hit
	err  error

	mu        sync.Mutex
	questions []string
}

func (f *fakeRetriever) Retrieve(_ context.Context, q string) ([]rag.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append(f.questions, q)
	return f.hits, f.err
}

func (f *fakeRetriever) Questions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.questions...)
}

type fakeAnswerer struct {
	answer string
	err    error

	mu    sync.Mutex
	calls int
	hits  []rag.Hit
}

func (f *fakeAnswerer) Answer(_ context.Context, _ string, hits []rag.Hit) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.hits = hits
	return f.answer, f.err
}

// fakeStager writes files into the staging dir as if downloaded.
type fakeStager struct {
	files map[string]string
	err   error

	mu      sync.Mutex
	folders []string
}

func (f *fakeStager) Stage(_ context.Context, folder, dir string) (int, error) {
	f.mu.Lock()
	f.folders = append(f.folders, folder)
	f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	for rel, body := range f.files {
		dest := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return 0, err
		}
		if err := os.WriteFile(dest, []byte(body), 0o644); err != nil {
			return 0, err
		}
	}
	return len(f.files), nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// newTestServer builds a bare *Server for calling handlers directly.
func newTestServer() *Server {
	reg := prometheus.NewRegistry()
	return &Server{
		deps: Deps{
			Ingester:  &fakeIngester{},
			Retriever: &fakeRetriever{},
			Answerer:  &fakeAnswerer{},
		},
		cfg:     &Config{MetricsRegistry: reg, MetricsGatherer: reg},
		log:     slog.New(slog.DiscardHandler),
		metrics: newServerMetrics(reg),
		stopRL:  func() {},
	}
}

type harness struct {
	srv       *Server
	reg       *prometheus.Registry
	ingester  *fakeIngester
	retriever *fakeRetriever
	answerer  *fakeAnswerer
	staging   string
}

// newHarness builds a fully wired server through New. mutate may adjust
// the deps and config before construction.
func newHarness(t *testing.T, mutate func(*Deps, *Config)) *harness {
	t.Helper()

	h := &harness{
		reg:       prometheus.NewRegistry(),
		ingester:  &fakeIngester{stats: ingestion.Stats{Files: 2, Pages: 3, Chunks: 5}},
		retriever: &fakeRetriever{},
		answerer:  &fakeAnswerer{answer: "Close valve V7 first [pump.pdf p.2]"},
		staging:   t.TempDir(),
	}
	deps := Deps{Ingester: h.ingester, Retriever: h.retriever, Answerer: h.answerer}
	cfg := &Config{
		Logger:          slog.New(slog.DiscardHandler),
		APIKey:          testKey,
		StagingDir:      h.staging,
		MetricsRegistry: h.reg,
		MetricsGatherer: h.reg,
	}
	if mutate != nil {
		mutate(&deps, cfg)
	}

	srv, err := New(deps, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(srv.stopRL)
	h.srv = srv
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	return w
}

func (h *harness) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return h.do(req)
}

// stagingEmpty reports whether every temporary directory was removed.
func (h *harness) stagingEmpty(t *testing.T) bool {
	t.Helper()
	entries, err := os.ReadDir(h.staging)
	if err != nil {
		t.Fatalf("read staging dir: %v", err)
	}
	return len(entries) == 0
}

type uploadFile struct {
	name string
	body string
}

// uploadRequest builds a folder-upload body. key, when non-empty, is sent
// as the x_api_key field ahead of the files the way the browser form does.
func uploadRequest(t *testing.T, key string, files ...uploadFile) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if key != "" {
		if err := mw.WriteField(apiKeyField, key); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile("files", f.name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte(f.body)); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/ingest/folder-upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeDetail(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return body.Detail
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	ok := Deps{Ingester: &fakeIngester{}, Retriever: &fakeRetriever{}, Answerer: &fakeAnswerer{}}
	cases := map[string]func(*Deps){
		"ingester":  func(d *Deps) { d.Ingester = nil },
		"retriever": func(d *Deps) { d.Retriever = nil },
		"answerer":  func(d *Deps) { d.Answerer = nil },
	}
	for name, drop := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			d := ok
			drop(&d)
			reg := prometheus.NewRegistry()
			if _, err := New(d, &Config{MetricsRegistry: reg, MetricsGatherer: reg}); err == nil {
				t.Errorf("expected error with nil %s", name)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(_ *Deps, c *Config) { c.Host, c.Port = "", 0 })
	if got := h.srv.Addr(); got != "127.0.0.1:8000" {
		t.Errorf("Addr: want 127.0.0.1:8000, got %q", got)
	}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

func TestAuth_RejectsMissingAndWrongKey(t *testing.T) {
	t.Parallel()

	cases := map[string]url.Values{
		"missing": {"question": {"how do I bleed the pump?"}},
		"wrong":   {"question": {"how do I bleed the pump?"}, apiKeyField: {"nope"}},
	}
	for name, form := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, nil)

			w := h.postForm("/chat", form)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("want 401, got %d body: %s", w.Code, w.Body.String())
			}
			if got := decodeDetail(t, w); got != "Invalid API key" {
				t.Errorf("detail: want %q, got %q", "Invalid API key", got)
			}
			if n := len(h.retriever.Questions()); n != 0 {
				t.Errorf("retriever must not run on 401, ran %d times", n)
			}
		})
	}
}

func TestAuth_AcceptsFieldHeaderAndBearer(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*http.Request){
		"field":  func(*http.Request) {},
		"header": func(r *http.Request) { r.Header.Set("X-API-Key", testKey) },
		"bearer": func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+testKey) },
	}
	for name, setKey := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, nil)

			form := url.Values{"question": {"q"}}
			if name == "field" {
				form.Set(apiKeyField, testKey)
			}
			req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			setKey(req)

			if w := h.do(req); w.Code != http.StatusOK {
				t.Errorf("want 200, got %d body: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestAuth_DisabledWithoutKey(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(_ *Deps, c *Config) { c.APIKey = "" })
	w := h.postForm("/chat", url.Values{"question": {"q"}})
	if w.Code != http.StatusOK {
		t.Errorf("want 200 with auth disabled, got %d", w.Code)
	}
}

func TestAuth_FailureCounted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.postForm("/chat", url.Values{"question": {"q"}})
	h.postForm("/ingest/local", url.Values{"path": {"/tmp"}})

	if got := gatherValue(t, h.reg, "plantai_http_auth_failures_total", nil); got != 2 {
		t.Errorf("auth failures: want 2, got %v", got)
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		if got := bearerToken(req); got != tc.want {
			t.Errorf("header %q: want %q, got %q", tc.header, tc.want, got)
		}
	}
}

func TestHeaderKey_PrefersXAPIKey(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "from-header")
	req.Header.Set("Authorization", "Bearer from-bearer")
	if got := headerKey(req); got != "from-header" {
		t.Errorf("want from-header, got %q", got)
	}
}

// ---------------------------------------------------------------------------
// POST /ingest/local
// ---------------------------------------------------------------------------

func TestIngestLocal_OK(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := h.postForm("/ingest/local", url.Values{"path": {root}, apiKeyField: {testKey}})

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d body: %s", w.Code, w.Body.String())
	}
	var resp ingestResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp != (ingestResponse{Status: "ok", Files: 2, Chunks: 5}) {
		t.Errorf("unexpected response %+v", resp)
	}

	calls := h.ingester.Calls()
	if len(calls) != 1 {
		t.Fatalf("want 1 ingest call, got %d", len(calls))
	}
	if calls[0].root != root || calls[0].opts.Label != labelLocal || calls[0].opts.URI != nil {
		t.Errorf("unexpected call root=%q label=%q uri-mapper=%v", calls[0].root, calls[0].opts.Label, calls[0].opts.URI != nil)
	}
	if got := gatherValue(t, h.reg, "plantai_ingest_chunks_total", map[string]string{"source": "local"}); got != 5 {
		t.Errorf("chunks_total{source=local}: want 5, got %v", got)
	}
}

func TestIngestLocal_BadPath(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":   "",
		"missing": filepath.Join(t.TempDir(), "nope"),
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, nil)

			w := h.postForm("/ingest/local", url.Values{"path": {path}, apiKeyField: {testKey}})

			if w.Code != http.StatusBadRequest {
				t.Errorf("want 400, got %d", w.Code)
			}
			if n := len(h.ingester.Calls()); n != 0 {
				t.Errorf("ingester must not run, ran %d times", n)
			}
		})
	}
}

func TestIngest_ErrorsHiddenByDefault(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(d *Deps, _ *Config) {
		d.Ingester = &fakeIngester{err: os.ErrPermission}
	})

	w := h.postForm("/ingest/local", url.Values{"path": {t.TempDir()}, apiKeyField: {testKey}})

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", w.Code)
	}
	detail := decodeDetail(t, w)
	if !strings.HasPrefix(detail, "ingestion failed (request_id ") {
		t.Errorf("want generic detail with request id, got %q", detail)
	}
	if !strings.Contains(detail, w.Header().Get("X-Request-ID")) {
		t.Errorf("detail %q does not carry X-Request-ID %q", detail, w.Header().Get("X-Request-ID"))
	}
	if strings.Contains(detail, "permission") {
		t.Errorf("internal error leaked: %q", detail)
	}
}

func TestIngest_ErrorsExposedWhenEnabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(d *Deps, c *Config) {
		d.Ingester = &fakeIngester{err: os.ErrPermission}
		c.ExposeErrors = true
	})

	w := h.postForm("/ingest/local", url.Values{"path": {t.TempDir()}, apiKeyField: {testKey}})

	if got := decodeDetail(t, w); got != os.ErrPermission.Error() {
		t.Errorf("detail: want %q, got %q", os.ErrPermission.Error(), got)
	}
}

// ---------------------------------------------------------------------------
// POST /ingest/folder-upload
// ---------------------------------------------------------------------------

func TestIngestUpload_StagesRelativePaths(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	req := uploadRequest(t, testKey,
		uploadFile{name: "manuals/pump.txt", body: "pump text"},
		uploadFile{name: "manuals/valves/v7.txt", body: "valve text"},
		uploadFile{name: "readme.txt", body: "hello"},
	)

	w := h.do(req)

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d body: %s", w.Code, w.Body.String())
	}
	calls := h.ingester.Calls()
	if len(calls) != 1 {
		t.Fatalf("want 1 ingest call, got %d", len(calls))
	}
	want := map[string]string{
		"manuals/pump.txt":      "pump text",
		"manuals/valves/v7.txt": "valve text",
		"readme.txt":            "hello",
	}
	if len(calls[0].files) != len(want) {
		t.Fatalf("staged files: want %v, got %v", want, calls[0].files)
	}
	for rel, body := range want {
		if calls[0].files[rel] != body {
			t.Errorf("staged %q: want %q, got %q", rel, body, calls[0].files[rel])
		}
	}
	if calls[0].opts.Label != labelUpload {
		t.Errorf("label: want %q, got %q", labelUpload, calls[0].opts.Label)
	}
	if got := calls[0].opts.URI("manuals/pump.txt"); got != "upload://manuals/pump.txt" {
		t.Errorf("uri: got %q", got)
	}
	if !h.stagingEmpty(t) {
		t.Error("staging directory was not removed")
	}
}

func TestIngestUpload_WrongKeyWritesNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	w := h.do(uploadRequest(t, "wrong", uploadFile{name: "a.txt", body: "x"}))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", w.Code)
	}
	if n := len(h.ingester.Calls()); n != 0 {
		t.Errorf("ingester must not run, ran %d times", n)
	}
	if !h.stagingEmpty(t) {
		t.Error("files were staged for an unauthorised request")
	}
}

func TestIngestUpload_HeaderKey(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	req := uploadRequest(t, "", uploadFile{name: "a.txt", body: "x"})
	req.Header.Set("X-API-Key", testKey)

	if w := h.do(req); w.Code != http.StatusOK {
		t.Errorf("want 200, got %d body: %s", w.Code, w.Body.String())
	}
}

func TestIngestUpload_RejectsTraversal(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"../evil.txt", "a/../../evil.txt", "/etc/passwd"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, nil)

			w := h.do(uploadRequest(t, testKey, uploadFile{name: name, body: "x"}))

			if w.Code != http.StatusBadRequest {
				t.Errorf("want 400, got %d", w.Code)
			}
			if n := len(h.ingester.Calls()); n != 0 {
				t.Errorf("ingester must not run, ran %d times", n)
			}
			if !h.stagingEmpty(t) {
				t.Error("staging directory was not removed")
			}
		})
	}
}

func TestIngestUpload_NoFiles(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if w := h.do(uploadRequest(t, testKey)); w.Code != http.StatusBadRequest {
		t.Errorf("want 400, got %d", w.Code)
	}
}

func TestIngestUpload_NotMultipart(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if w := h.postForm("/ingest/folder-upload", url.Values{apiKeyField: {testKey}}); w.Code != http.StatusBadRequest {
		t.Errorf("want 400, got %d", w.Code)
	}
}

func TestIngestUpload_TooLarge(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(_ *Deps, c *Config) { c.UploadMaxBytes = 512 })
	w := h.do(uploadRequest(t, testKey, uploadFile{name: "big.txt", body: strings.Repeat("x", 8192)}))

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("want 413, got %d body: %s", w.Code, w.Body.String())
	}
	if !h.stagingEmpty(t) {
		t.Error("staging directory was not removed")
	}
}

func TestUploadPath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"a.txt", "a.txt", true},
		{"dir/sub/a.txt", filepath.Join("dir", "sub", "a.txt"), true},
		{`dir\a.txt`, filepath.Join("dir", "a.txt"), true},
		{"dir/./a.txt", filepath.Join("dir", "a.txt"), true},
		{"../a.txt", "", false},
		{"/abs.txt", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := uploadPath(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("uploadPath(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

// ---------------------------------------------------------------------------
// POST /ingest/sharepoint
// ---------------------------------------------------------------------------

func TestIngestSharePoint_OK(t *testing.T) {
	t.Parallel()

	stager := &fakeStager{files: map[string]string{"pump.txt": "pump", "Valves/v7.txt": "valve"}}
	h := newHarness(t, func(d *Deps, _ *Config) { d.SharePoint = stager })

	w := h.postForm("/ingest/sharepoint", url.Values{"sp_folder": {"/Plant/Manuals/"}, apiKeyField: {testKey}})

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d body: %s", w.Code, w.Body.String())
	}
	if len(stager.folders) != 1 || stager.folders[0] != "Plant/Manuals" {
		t.Errorf("staged folders: %v", stager.folders)
	}
	calls := h.ingester.Calls()
	if len(calls) != 1 {
		t.Fatalf("want 1 ingest call, got %d", len(calls))
	}
	if calls[0].files["Valves/v7.txt"] != "valve" {
		t.Errorf("staged files: %v", calls[0].files)
	}
	if got := calls[0].opts.URI("Valves/v7.txt"); got != "sharepoint://Plant/Manuals/Valves/v7.txt" {
		t.Errorf("uri: got %q", got)
	}
	if !h.stagingEmpty(t) {
		t.Error("staging directory was not removed")
	}
}

func TestIngestSharePoint_RootFolder(t *testing.T) {
	t.Parallel()

	stager := &fakeStager{files: map[string]string{"a.txt": "a"}}
	h := newHarness(t, func(d *Deps, _ *Config) { d.SharePoint = stager })

	w := h.postForm("/ingest/sharepoint", url.Values{"sp_folder": {""}, apiKeyField: {testKey}})

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	if got := h.ingester.Calls()[0].opts.URI("a.txt"); got != "sharepoint://a.txt" {
		t.Errorf("uri: got %q", got)
	}
}

func TestIngestSharePoint_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		stager Stager
		form   url.Values
		want   int
	}{
		{"missing folder field", &fakeStager{}, url.Values{}, http.StatusBadRequest},
		{"not configured", nil, url.Values{"sp_folder": {"Plant"}}, http.StatusServiceUnavailable},
		{"folder not found", &fakeStager{err: fmt.Errorf("stage: %w", sharepoint.ErrNotFound)}, url.Values{"sp_folder": {"Nope"}}, http.StatusNotFound},
		{"fetch failure", &fakeStager{err: os.ErrDeadlineExceeded}, url.Values{"sp_folder": {"Plant"}}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, func(d *Deps, _ *Config) { d.SharePoint = tc.stager })
			tc.form.Set(apiKeyField, testKey)

			w := h.postForm("/ingest/sharepoint", tc.form)

			if w.Code != tc.want {
				t.Errorf("want %d, got %d body: %s", tc.want, w.Code, w.Body.String())
			}
			if n := len(h.ingester.Calls()); n != 0 {
				t.Errorf("ingester must not run, ran %d times", n)
			}
			if !h.stagingEmpty(t) {
				t.Error("staging directory was not removed")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// POST /chat
// ---------------------------------------------------------------------------

func TestChat_ReturnsAnswerAndSources(t *testing.T) {
	t.Parallel()

	hits := []rag.Hit{
		{Record: rag.Record{ID: 4, SourceLabel: "local", URI: "/data/pump.pdf", Page: 2, ChunkID: "pump.pdf#p2#c0", Content: "Close V7."}, Score: 0.91},
		{Record: rag.Record{ID: 9, SourceLabel: "upload", URI: "upload://v7.txt", Page: 1, ChunkID: "v7.txt#p1#c0", Content: "V7 is a gate valve."}, Score: 0.72},
	}
	h := newHarness(t, func(d *Deps, _ *Config) { d.Retriever = &fakeRetriever{hits: hits} })

	w := h.postForm("/chat", url.Values{"question": {"  how do I isolate the pump?  "}, apiKeyField: {testKey}})

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d body: %s", w.Code, w.Body.String())
	}
	var resp chatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != h.answerer.answer {
		t.Errorf("answer: got %q", resp.Answer)
	}
	if len(resp.Sources) != 2 || resp.Sources[0].ChunkID != "pump.pdf#p2#c0" || resp.Sources[1].Score != 0.72 {
		t.Errorf("sources: got %+v", resp.Sources)
	}
	if len(h.answerer.hits) != 2 {
		t.Errorf("answerer got %d hits, want 2", len(h.answerer.hits))
	}
}

func TestChat_EmptyStoreStillAnswers(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	w := h.postForm("/chat", url.Values{"question": {"anything?"}, apiKeyField: {testKey}})

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"sources":[]`) {
		t.Errorf("want empty sources array, got %s", w.Body.String())
	}
	if h.answerer.calls != 1 {
		t.Errorf("answerer calls: want 1, got %d", h.answerer.calls)
	}
}

func TestChat_MissingQuestion(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	w := h.postForm("/chat", url.Values{"question": {"   "}, apiKeyField: {testKey}})

	if w.Code != http.StatusBadRequest {
		t.Errorf("want 400, got %d", w.Code)
	}
	if n := len(h.retriever.Questions()); n != 0 {
		t.Errorf("retriever must not run, ran %d times", n)
	}
}

func TestChat_Failures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Deps)
		detail string
	}{
		{"retrieval", func(d *Deps) { d.Retriever = &fakeRetriever{err: os.ErrClosed} }, "retrieval failed"},
		{"answer", func(d *Deps) { d.Answerer = &fakeAnswerer{err: os.ErrClosed} }, "answer generation failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, func(d *Deps, _ *Config) { tc.mutate(d) })

			w := h.postForm("/chat", url.Values{"question": {"q"}, apiKeyField: {testKey}})

			if w.Code != http.StatusInternalServerError {
				t.Fatalf("want 500, got %d", w.Code)
			}
			if got := decodeDetail(t, w); !strings.HasPrefix(got, tc.detail) {
				t.Errorf("detail: want prefix %q, got %q", tc.detail, got)
			}
			if got := gatherValue(t, h.reg, "plantai_chat_requests_total", map[string]string{"outcome": "error"}); got != 1 {
				t.Errorf("chat_requests_total{outcome=error}: want 1, got %v", got)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Cross-cutting middleware
// ---------------------------------------------------------------------------

func TestServer_RateLimited(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(_ *Deps, c *Config) {
		c.RateLimit = 0.001
		c.RateBurst = 1
	})
	form := url.Values{"question": {"q"}, apiKeyField: {testKey}}

	if w := h.postForm("/chat", form); w.Code != http.StatusOK {
		t.Fatalf("first request: want 200, got %d", w.Code)
	}
	if w := h.postForm("/chat", form); w.Code != http.StatusTooManyRequests {
		t.Errorf("second request: want 429, got %d", w.Code)
	}
	if got := gatherValue(t, h.reg, "plantai_http_rate_limited_total", nil); got != 1 {
		t.Errorf("rate_limited_total: want 1, got %v", got)
	}

	// Probes are never limited.
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	if w := h.do(req); w.Code != http.StatusOK {
		t.Errorf("health: want 200, got %d", w.Code)
	}
}

func TestServer_CORS(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(_ *Deps, c *Config) { c.CORSOrigins = []string{"http://localhost:5173"} })

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		return h.do(req)
	}

	if got := preflight("http://localhost:5173").Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allowed origin: got Access-Control-Allow-Origin %q", got)
	}
	if got := preflight("http://evil.example").Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin: got Access-Control-Allow-Origin %q", got)
	}
}

func TestServer_RequestIDHeader(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	w := h.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if id := w.Header().Get("X-Request-ID"); len(id) != 16 {
		t.Errorf("X-Request-ID: want 16 hex chars, got %q", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "edge-7f3a9c21")
	if id := h.do(req).Header().Get("X-Request-ID"); id != "edge-7f3a9c21" {
		t.Errorf("inbound X-Request-ID not reused, got %q", id)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "bad id\r\n")
	if id := h.do(req).Header().Get("X-Request-ID"); len(id) != 16 {
		t.Errorf("malformed inbound ID should be replaced, got %q", id)
	}
}

func TestValidRequestID(t *testing.T) {
	t.Parallel()

	for id, want := range map[string]bool{
		"":                      false,
		"short":                 false,
		"0123456789abcdef":      true,
		"edge_7F3A-9c21":        true,
		"has space in it":       false,
		"semi;colon12":          false,
		strings.Repeat("a", 64): true,
		strings.Repeat("a", 65): false,
	} {
		if got := validRequestID(id); got != want {
			t.Errorf("validRequestID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if w := h.do(httptest.NewRequest(http.MethodGet, "/chat", nil)); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("want 405, got %d", w.Code)
	}
}
