package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/coherence/internal/coherence"
	"github.com/starford/coherence/internal/models"
	"github.com/starford/coherence/internal/monitor"
	"github.com/starford/coherence/internal/testutil"
)

// testEnv sets up a temp records directory, SQLite log, service and router.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) (*monitor.Service, http.Handler) {
	t.Helper()
	return testEnvWithSSE(t, authToken != "", authToken, nil)
}

func testEnvWithSSE(t *testing.T, authEnabled bool, token string, sseHandler http.Handler) (*monitor.Service, http.Handler) {
	t.Helper()
	_, store := testutil.TestRecords(t)
	db := testutil.TestDB(t)

	cfg := coherence.DefaultConfig()
	cfg.WindowSize = 10 * time.Second
	cfg.WindowStep = 10 * time.Second
	cfg.Approximate = false
	svc, err := monitor.NewService(cfg, monitor.WithRecordLog(db), monitor.WithStore(store))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, NewRouter(svc, authEnabled, token, sseHandler)
}

func stream() []models.Record {
	return []models.Record{
		testutil.Record("a", 0, "b"),
		testutil.Record("b", time.Second, "c"),
		testutil.Record("c", 2*time.Second, "d"),
		testutil.Record("d", 3*time.Second, "a"),
		testutil.Record("e", 10*time.Second, "f"),
		testutil.Record("g", 20*time.Second, "h"),
	}
}

func do(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIngestAndListSignals(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/records", IngestRequest{Records: stream()})
	if w.Code != http.StatusOK {
		t.Fatalf("ingest status = %d, body = %s", w.Code, w.Body.String())
	}
	var res IngestResult
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.Accepted != 6 || len(res.Signals) != 2 {
		t.Errorf("ingest result = %+v", res)
	}

	w = do(t, router, http.MethodGet, "/signals", nil)
	var list SignalsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Total != 2 || len(list.Signals) != 2 {
		t.Errorf("signals = %+v", list)
	}

	w = do(t, router, http.MethodGet, "/signals?limit=1", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Total != 2 || len(list.Signals) != 1 || list.Signals[0].Window.WindowID != 1 {
		t.Errorf("limited signals = %+v", list)
	}

	w = do(t, router, http.MethodGet, "/signals/latest", nil)
	var latest models.CoherenceSignal
	_ = json.Unmarshal(w.Body.Bytes(), &latest)
	if w.Code != http.StatusOK || latest.MinCutValue != 1 {
		t.Errorf("latest = %d %+v", w.Code, latest)
	}
}

func TestIngest_InvalidBody(t *testing.T) {
	_, router := testEnv(t, "")
	req := httptest.NewRequest(http.MethodPost, "/records", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}

	w = do(t, router, http.MethodPost, "/records", IngestRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty records status = %d", w.Code)
	}
}

func TestLatestSignal_NotFound(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/signals/latest", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestEventsEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	do(t, router, http.MethodPost, "/records", IngestRequest{Records: stream()})

	w := do(t, router, http.MethodGet, "/events?threshold=0.5", nil)
	var resp EventsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != http.StatusOK || resp.Threshold != 0.5 || len(resp.Events) == 0 {
		t.Errorf("events = %d %+v", w.Code, resp)
	}

	for _, q := range []string{"abc", "-1", "NaN"} {
		if w := do(t, router, http.MethodGet, "/events?threshold="+q, nil); w.Code != http.StatusBadRequest {
			t.Errorf("threshold %q: status = %d", q, w.Code)
		}
	}
}

func TestBoundariesEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/boundaries", nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"boundaries":[]`)) {
		t.Errorf("empty boundaries = %d %s", w.Code, w.Body.String())
	}

	do(t, router, http.MethodPost, "/records", IngestRequest{Records: stream()})
	w = do(t, router, http.MethodGet, "/boundaries", nil)
	var resp BoundariesResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Boundaries) == 0 {
		t.Error("expected tracked boundaries")
	}
}

func TestWindowAndFlush(t *testing.T) {
	_, router := testEnv(t, "")
	do(t, router, http.MethodPost, "/records", IngestRequest{Records: stream()[:4]})

	w := do(t, router, http.MethodGet, "/window", nil)
	var st Status
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if st.State != "accumulating" || st.Pending != 4 {
		t.Errorf("status = %+v", st)
	}

	w = do(t, router, http.MethodPost, "/flush", nil)
	var flushed FlushResponse
	_ = json.Unmarshal(w.Body.Bytes(), &flushed)
	if w.Code != http.StatusOK || flushed.Signal == nil || flushed.Signal.MinCutValue != 2 {
		t.Fatalf("flush = %d %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodPost, "/flush", nil)
	if !bytes.Contains(w.Body.Bytes(), []byte(`"signal":null`)) {
		t.Errorf("second flush = %s", w.Body.String())
	}
}

func TestBatchesLifecycle(t *testing.T) {
	_, router := testEnv(t, "")
	content := `{"id":"a","timestamp":"2024-01-01T00:00:00Z","relationships":[{"target_id":"b","weight":2}]}
{"id":"b","timestamp":"2024-01-01T00:00:15Z","relationships":[{"target_id":"c","weight":1}]}
`
	w := do(t, router, http.MethodPost, "/batches", SaveBatchRequest{Name: "2024/day1.jsonl", Content: content})
	if w.Code != http.StatusCreated {
		t.Fatalf("save = %d %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/batches", nil)
	var list BatchListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Batches) != 1 || list.Batches[0].Path != "2024/day1.jsonl" {
		t.Fatalf("batches = %+v", list)
	}

	w = do(t, router, http.MethodDelete, "/batches/2024%2Fday1.jsonl", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete = %d %s", w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodDelete, "/batches/2024/day1.jsonl", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestSaveBatch_Rejections(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/batches", SaveBatchRequest{Name: "bad.jsonl", Content: "{nope"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid content = %d", w.Code)
	}
	w = do(t, router, http.MethodPost, "/batches", SaveBatchRequest{Name: "notes.txt", Content: "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unsupported extension = %d", w.Code)
	}

	do(t, router, http.MethodPost, "/records", IngestRequest{Records: stream()})
	late := `{"id":"late","timestamp":"2024-01-01T00:00:01Z"}`
	w = do(t, router, http.MethodPost, "/batches", SaveBatchRequest{Name: "late.jsonl", Content: late})
	if w.Code != http.StatusConflict {
		t.Errorf("late batch = %d %s", w.Code, w.Body.String())
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	req := httptest.NewRequest(http.MethodGet, "/signals", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token = %d", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	w := do(t, router, http.MethodGet, "/signals", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing token = %d, want 401", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("WWW-Authenticate"), "Bearer") {
		t.Errorf("WWW-Authenticate = %q", w.Header().Get("WWW-Authenticate"))
	}
	var body errResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body.Kind != kindUnauthorized {
		t.Errorf("body = %s (%v)", w.Body.String(), err)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	req := httptest.NewRequest(http.MethodGet, "/signals", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/signals", nil)
	req.Header.Set("Authorization", "Basic secret123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("non-bearer scheme = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnvWithSSE(t, false, "ignored", nil)
	w := do(t, router, http.MethodGet, "/signals", nil)
	if w.Code != http.StatusOK {
		t.Errorf("disabled auth = %d", w.Code)
	}
}

// stubSSE writes headers and blocks until the request context is done.
var stubSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestStream_AuthProtected(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", stubSSE)
	w := do(t, router, http.MethodGet, "/stream", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("stream without token = %d, want 401", w.Code)
	}
}

func TestStream_ValidToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", stubSSE)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/stream", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("stream = %d %q", w.Code, w.Header().Get("Content-Type"))
	}
}
