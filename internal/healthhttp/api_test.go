package healthhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/aem-healthcheck/internal/checks"
	"github.com/keithlinneman/aem-healthcheck/internal/hc"
	"github.com/keithlinneman/aem-healthcheck/internal/hoststate"
	"github.com/keithlinneman/aem-healthcheck/internal/log"
)

// stubRunner returns fixed results and records the options it was given.
type stubRunner struct {
	results []hc.ExecutionResult
	got     hc.ExecutionOptions
	calls   int
}

func (s *stubRunner) Execute(_ context.Context, opts hc.ExecutionOptions) []hc.ExecutionResult {
	s.got = opts
	s.calls++
	return s.results
}

type spyVerdicts struct {
	status  hc.Status
	matched int
}

func (s *spyVerdicts) ObserveVerdict(status hc.Status, matched int) {
	s.status, s.matched = status, matched
}

// spyLogger captures Error calls.
type spyLogger struct {
	log.Logger
	mu   sync.Mutex
	errs []error
}

func (s *spyLogger) With(...any) log.Logger { return s }

func (s *spyLogger) Error(_ context.Context, err error, _ string, _ ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func result(name, display string, status hc.Status, elapsed time.Duration) hc.ExecutionResult {
	return hc.ExecutionResult{
		Metadata: hc.Metadata{Name: name, DisplayName: display},
		Result:   hc.NewResult(status, ""),
		Elapsed:  elapsed,
	}
}

func serve(t *testing.T, api *API, target string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandleHealth_NoResults(t *testing.T) {
	rec := serve(t, NewAPI(&stubRunner{results: []hc.ExecutionResult{}}, nil, nil), "/health?tags=nothing")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != `{"results":[]}` {
		t.Fatalf("body = %q", got)
	}
}

func TestHandleHealth_Headers(t *testing.T) {
	rec := serve(t, NewAPI(&stubRunner{}, nil, nil), "/health")

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "must-revalidate, no-cache, no-store" {
		t.Errorf("Cache-Control = %q", cc)
	}
}

func TestHandleHealth_Smoke(t *testing.T) {
	runner := &stubRunner{results: []hc.ExecutionResult{
		result("smoke", "Smoke", hc.StatusOK, 0),
	}}
	rec := serve(t, NewAPI(runner, nil, nil), "/health?tags=devops")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	want := `{"results":[{"name":"Smoke","status":"OK","timeMs":0}]}`
	if got := rec.Body.String(); got != want {
		t.Fatalf("body = %q, want %q", got, want)
	}
}

func TestHandleHealth_NonOKIs503(t *testing.T) {
	tests := []struct {
		name   string
		status hc.Status
		code   int
	}{
		{"ok", hc.StatusOK, http.StatusOK},
		{"warn", hc.StatusWarn, http.StatusServiceUnavailable},
		{"critical", hc.StatusCritical, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{results: []hc.ExecutionResult{
				result("smoke", "Smoke Health Check", hc.StatusOK, time.Millisecond),
				result("bundles", "Bundle Health Check", tt.status, 12*time.Millisecond),
			}}
			verdicts := &spyVerdicts{}
			rec := serve(t, NewAPI(runner, nil, verdicts), "/health")
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d", rec.Code, tt.code)
			}
			if verdicts.status != tt.status || verdicts.matched != 2 {
				t.Fatalf("verdict = %+v", verdicts)
			}

			var body struct {
				Results []struct {
					Name   string `json:"name"`
					Status string `json:"status"`
					TimeMs int64  `json:"timeMs"`
				} `json:"results"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if len(body.Results) != 2 {
				t.Fatalf("results = %+v", body.Results)
			}
			if r := body.Results[1]; r.Name != "Bundle Health Check" || r.Status != tt.status.String() || r.TimeMs != 12 {
				t.Fatalf("second result = %+v", r)
			}
		})
	}
}

func TestHandleHealth_AliasPath(t *testing.T) {
	runner := &stubRunner{}
	rec := serve(t, NewAPI(runner, nil, nil), "/system/health?tags=shallow")
	if rec.Code != http.StatusOK || runner.calls != 1 {
		t.Fatalf("code=%d calls=%d", rec.Code, runner.calls)
	}
	if !slices.Equal(runner.got.Tags, []string{"shallow"}) {
		t.Fatalf("tags = %v", runner.got.Tags)
	}
}

func TestHandleHealth_SerializationFailureDropsEntry(t *testing.T) {
	runner := &stubRunner{results: []hc.ExecutionResult{
		result("a", "A", hc.StatusOK, 0),
		result("b", "B", hc.StatusOK, 0),
		result("c", "C", hc.StatusOK, 0),
	}}
	spy := &spyLogger{Logger: log.Nop()}
	api := NewAPI(runner, spy, nil)
	api.marshal = func(v any) ([]byte, error) {
		if v.(resultEntry).Name == "B" {
			return nil, errors.New("boom")
		}
		return json.Marshal(v)
	}

	rec := serve(t, api, "/health")
	want := `{"results":[{"name":"A","status":"OK","timeMs":0},{"name":"C","status":"OK","timeMs":0}]}`
	if got := rec.Body.String(); got != want {
		t.Fatalf("body = %q, want %q", got, want)
	}
	if len(spy.errs) != 1 || !errors.Is(spy.errs[0], hc.ErrSerialization) {
		t.Fatalf("logged errors = %v", spy.errs)
	}
}

func TestParseOptions(t *testing.T) {
	tests := []struct {
		query string
		tags  []string
		mode  hc.TagMode
	}{
		{"", nil, hc.TagsOr},
		{"tags=", nil, hc.TagsOr},
		{"tags=devops", []string{"devops"}, hc.TagsOr},
		{"tags=a,b;c", []string{"a", "b", "c"}, hc.TagsOr},
		{"tags=a,%20;b", []string{"a", "b"}, hc.TagsOr},
		{"tags=a+b", []string{"a", "b"}, hc.TagsOr},
		{"tags=deep,-slow", []string{"deep", "-slow"}, hc.TagsOr},
		{"tags=a&combineTagsOr=true", []string{"a"}, hc.TagsOr},
		{"tags=a&combineTagsOr=TRUE", []string{"a"}, hc.TagsOr},
		{"tags=a&combineTagsOr=false", []string{"a"}, hc.TagsAnd},
		{"tags=a&combineTagsOr=yes", []string{"a"}, hc.TagsAnd},
		{"tags=a&combineTagsOr=", []string{"a"}, hc.TagsAnd},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatal(err)
			}
			got := ParseOptions(q)
			if !slices.Equal(got.Tags, tt.tags) {
				t.Errorf("tags = %q, want %q", got.Tags, tt.tags)
			}
			if got.Mode != tt.mode {
				t.Errorf("mode = %s, want %s", got.Mode, tt.mode)
			}
		})
	}
}

// End to end through the real executor and built-in checks.
func TestHandleHealth_WithExecutor(t *testing.T) {
	cfg := checks.DefaultConfig()
	cfg.Bundles.Disabled = true
	cfg.Replication.Disabled = true
	cfg.Jobs.Disabled = true
	reg, err := checks.Initialize(cfg, checks.Deps{})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	exec := hc.NewExecutor(hc.ExecutorOptions{Registry: reg, Timeout: time.Second})

	rec := serve(t, NewAPI(exec, nil, nil), "/health?tags=devops")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Results []map[string]any `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Results) != 1 || body.Results[0]["name"] != "Smoke Health Check" || body.Results[0]["status"] != "OK" {
		t.Fatalf("results = %+v", body.Results)
	}

	rec = serve(t, NewAPI(exec, nil, nil), "/health?tags=devops,deep&combineTagsOr=false")
	if rec.Code != http.StatusOK || rec.Body.Len() == len(`{"results":[]}`) {
		t.Fatalf("AND of devops,deep should still select smoke: %s", rec.Body.String())
	}
}

// Concurrent requests share the executor and store while snapshots swap.
// Run with -race.
func TestHandleHealth_ConcurrentWithSnapshotSwaps(t *testing.T) {
	healthy := hoststate.Snapshot{
		Bundles: []hoststate.Bundle{{ID: 1, SymbolicName: "org.apache.sling.api", State: hoststate.BundleActive}},
		Agents:  []hoststate.Agent{{ID: "publish", Valid: true, Enabled: true}},
		Jobs:    &hoststate.JobManager{},
	}
	broken := healthy
	broken.Bundles = append(slices.Clone(healthy.Bundles),
		hoststate.Bundle{ID: 2, SymbolicName: "com.example.broken", State: hoststate.BundleResolved})

	store := hoststate.NewStore(0)
	store.Set(healthy)
	reg, err := checks.Initialize(checks.DefaultConfig(), checks.Deps{Bundles: store, Agents: store, Jobs: store})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	exec := hc.NewExecutor(hc.ExecutorOptions{Registry: reg, Timeout: time.Second})
	r := chi.NewRouter()
	NewAPI(exec, nil, nil).RegisterRoutes(r)

	stop := make(chan struct{})
	swapped := make(chan struct{})
	go func() {
		defer close(swapped)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				store.Set(broken)
			} else {
				store.Set(healthy)
			}
		}
	}()

	const workers, requests = 20, 25
	errs := make(chan error, workers*requests)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < requests; i++ {
				rec := httptest.NewRecorder()
				r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
				if rec.Code != http.StatusOK && rec.Code != http.StatusServiceUnavailable {
					errs <- fmt.Errorf("status = %d", rec.Code)
					continue
				}
				var body struct {
					Results []struct {
						Name   string `json:"name"`
						Status string `json:"status"`
					} `json:"results"`
				}
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
					errs <- fmt.Errorf("decode %q: %w", rec.Body.String(), err)
					continue
				}
				if len(body.Results) != reg.Len() {
					errs <- fmt.Errorf("results = %d, want %d", len(body.Results), reg.Len())
					continue
				}
				worst := "OK"
				for _, res := range body.Results {
					if res.Status != "OK" {
						worst = res.Status
					}
				}
				if (worst == "OK") != (rec.Code == http.StatusOK) {
					errs <- fmt.Errorf("status %d does not match results %+v", rec.Code, body.Results)
				}
			}
		}()
	}
	wg.Wait()
	close(stop)
	<-swapped
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
