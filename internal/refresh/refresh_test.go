package refresh

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"auto-transcriber/internal/domain"
)

type modelServer struct {
	mu      sync.Mutex
	payload []byte
	gets    int
	heads   int
}

func newModelServer(t *testing.T, payload []byte) (*modelServer, *httptest.Server) {
	t.Helper()
	ms := &modelServer{payload: payload}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ms.mu.Lock()
		if req.Method == http.MethodHead {
			ms.heads++
		} else {
			ms.gets++
		}
		body := ms.payload
		ms.mu.Unlock()
		http.ServeContent(w, req, filepath.Base(req.URL.Path), time.Time{}, bytes.NewReader(body))
	}))
	t.Cleanup(srv.Close)
	return ms, srv
}

func (ms *modelServer) counts() (int, int) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.gets, ms.heads
}

type fakeChecker struct {
	calls int
}

func (f *fakeChecker) Run(settings domain.Settings) domain.DiagnosticReport {
	f.calls++
	return domain.DiagnosticReport{Items: []domain.DiagnosticItem{{ID: "model_path", Status: domain.DiagnosticStatusPass}}}
}

func newTestRefresher(modelPath, modelID, baseURL string, checker Checker) *Refresher {
	settings := domain.Settings{ModelPath: modelPath, ModelID: modelID}
	return New(settings, checker, Options{BaseURL: baseURL, Timeout: 5 * time.Second}, nil)
}

// TestRunDownloadsMissingModel verifies a missing model is fetched into the model directory.
func TestRunDownloadsMissingModel(t *testing.T) {
	payload := []byte("ggml model bytes")
	ms, srv := newModelServer(t, payload)
	dir := t.TempDir()
	checker := &fakeChecker{}

	result, err := newTestRefresher(dir, "base", srv.URL, checker).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := filepath.Join(dir, "ggml-base.bin")
	if result.Path != want || !result.Downloaded || result.Reason != "missing" {
		t.Fatalf("result = %+v", result)
	}
	data, err := os.ReadFile(want)
	if err != nil || !bytes.Equal(data, payload) {
		t.Fatalf("model content = %q, err %v", data, err)
	}
	if _, err := os.Stat(want + ".download"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
	if gets, _ := ms.counts(); gets != 1 {
		t.Fatalf("gets = %d, want 1", gets)
	}
	if checker.calls != 1 {
		t.Fatalf("diagnostics calls = %d, want 1", checker.calls)
	}
}

// TestRunKeepsCurrentModel verifies a model whose size matches is not downloaded again.
func TestRunKeepsCurrentModel(t *testing.T) {
	payload := []byte("ggml model bytes")
	ms, srv := newModelServer(t, payload)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ggml-base.bin"), payload, 0o644); err != nil {
		t.Fatalf("seed model: %v", err)
	}
	checker := &fakeChecker{}

	result, err := newTestRefresher(dir, "base", srv.URL, checker).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Downloaded {
		t.Fatalf("unexpected download: %+v", result)
	}
	gets, heads := ms.counts()
	if gets != 0 || heads != 1 {
		t.Fatalf("gets=%d heads=%d, want 0 and 1", gets, heads)
	}
	if checker.calls != 1 {
		t.Fatalf("diagnostics calls = %d, want 1", checker.calls)
	}
}

// TestRunReplacesModelWithSizeMismatch verifies a stale local copy is replaced.
func TestRunReplacesModelWithSizeMismatch(t *testing.T) {
	payload := []byte("newer ggml model bytes")
	_, srv := newModelServer(t, payload)
	dir := t.TempDir()
	path := filepath.Join(dir, "ggml-base.bin")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatalf("seed model: %v", err)
	}

	result, err := newTestRefresher(dir, "base", srv.URL, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Downloaded || result.Reason != "size mismatch" {
		t.Fatalf("result = %+v", result)
	}
	data, _ := os.ReadFile(path)
	if !bytes.Equal(data, payload) {
		t.Fatalf("model content = %q, want %q", data, payload)
	}
}

// TestRunKeepsModelWhenServerUnavailable verifies a failed size check keeps the local copy.
func TestRunKeepsModelWhenServerUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	dir := t.TempDir()
	path := filepath.Join(dir, "ggml-base.bin")
	if err := os.WriteFile(path, []byte("local"), 0o644); err != nil {
		t.Fatalf("seed model: %v", err)
	}

	result, err := newTestRefresher(dir, "base", srv.URL, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Downloaded {
		t.Fatalf("unexpected download: %+v", result)
	}
}

// TestRunFailsDownloadOnHTTPError verifies a failed download leaves no partial file.
func TestRunFailsDownloadOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	dir := t.TempDir()

	_, err := newTestRefresher(dir, "base", srv.URL, nil).Run(context.Background())
	if err == nil {
		t.Fatal("expected download error")
	}
	if _, statErr := os.Stat(filepath.Join(dir, "ggml-base.bin")); !os.IsNotExist(statErr) {
		t.Fatalf("model file should not exist: %v", statErr)
	}
}

// TestRunSkipsRemoteCheckForCustomModel verifies a user-chosen model file is only checked for presence.
func TestRunSkipsRemoteCheckForCustomModel(t *testing.T) {
	ms, srv := newModelServer(t, []byte("catalog"))
	path := filepath.Join(t.TempDir(), "my-finetune.bin")
	if err := os.WriteFile(path, []byte("custom"), 0o644); err != nil {
		t.Fatalf("seed model: %v", err)
	}

	result, err := newTestRefresher(path, "base", srv.URL, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Downloaded || result.Path != path {
		t.Fatalf("result = %+v", result)
	}
	if gets, heads := ms.counts(); gets != 0 || heads != 0 {
		t.Fatalf("gets=%d heads=%d, want no requests", gets, heads)
	}
}

// TestRunRejectsUnknownModel verifies unknown catalog ids fail before any I/O.
func TestRunRejectsUnknownModel(t *testing.T) {
	_, err := newTestRefresher(t.TempDir(), "huge-v9", "http://127.0.0.1:1", nil).Run(context.Background())
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("err = %v, want ErrUnknownModel", err)
	}
}

// TestResolveTargetForMissingModelFile keeps an explicit model file path.
func TestResolveTargetForMissingModelFile(t *testing.T) {
	model, _ := Lookup("small")
	path := filepath.Join(t.TempDir(), "nested", "ggml-small.bin")
	r := newTestRefresher(path, "small", "", nil)

	target, custom, err := r.resolveTarget(path, model)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if target != path || custom {
		t.Fatalf("target=%s custom=%v", target, custom)
	}
}

// TestResolveTargetRejectsNonModelFile verifies a path to an unrelated file is an error.
func TestResolveTargetRejectsNonModelFile(t *testing.T) {
	model, _ := Lookup("base")
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	r := newTestRefresher(path, "base", "", nil)

	if _, _, err := r.resolveTarget(path, model); err == nil {
		t.Fatal("expected error for non-model file")
	}
}

// TestLookupAndURL verifies catalog lookup and URL composition.
func TestLookupAndURL(t *testing.T) {
	model, ok := Lookup(" base.en ")
	if !ok {
		t.Fatal("expected base.en in catalog")
	}
	if got := model.URL("https://mirror.example/models/"); got != "https://mirror.example/models/ggml-base.en.bin" {
		t.Fatalf("url = %s", got)
	}
	if got := model.URL(""); got != DefaultBaseURL+"ggml-base.en.bin" {
		t.Fatalf("default url = %s", got)
	}
	if len(Models()) == 0 {
		t.Fatal("catalog is empty")
	}
}
