package healthhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/aem-healthcheck/internal/hc"
	"github.com/keithlinneman/aem-healthcheck/internal/log"
	"github.com/keithlinneman/aem-healthcheck/internal/xerrors"
)

const (
	// Path is the public aggregate health endpoint.
	Path = "/health"
	// AliasPath is the servlet path AEM dispatchers usually allow through.
	AliasPath = "/system/health"

	ParamTags          = "tags"
	ParamCombineTagsOr = "combineTagsOr"

	cacheControl = "must-revalidate, no-cache, no-store"
)

// Runner executes the probes selected by opts, in registration order.
type Runner interface {
	Execute(ctx context.Context, opts hc.ExecutionOptions) []hc.ExecutionResult
}

// VerdictObserver is told the overall status of every served request.
type VerdictObserver interface {
	ObserveVerdict(status hc.Status, matched int)
}

// API implements httpserver.RouteRegistrar for the aggregate health endpoint.
type API struct {
	runner   Runner
	logger   log.Logger
	verdicts VerdictObserver
	marshal  func(any) ([]byte, error)
}

// NewAPI constructs the health endpoint. logger and verdicts may be nil.
func NewAPI(runner Runner, logger log.Logger, verdicts VerdictObserver) *API {
	if logger == nil {
		logger = log.Nop()
	}
	return &API{
		runner:   runner,
		logger:   logger,
		verdicts: verdicts,
		marshal:  json.Marshal,
	}
}

// RegisterRoutes attaches /health and /system/health.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Get(Path, api.HandleHealth)
	r.Get(AliasPath, api.HandleHealth)
}

// resultEntry is one element of the "results" array.
type resultEntry struct {
	Name   string    `json:"name"`
	Status hc.Status `json:"status"`
	TimeMs int64     `json:"timeMs"`
}

// HandleHealth runs the selected probes and writes the aggregate result.
// The response is 200 only when every executed probe is OK.
func (api *API) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	opts := ParseOptions(r.URL.Query())

	results := api.runner.Execute(ctx, opts)
	verdict := hc.Worst(results)
	if api.verdicts != nil {
		api.verdicts.ObserveVerdict(verdict, len(results))
	}

	code := http.StatusOK
	if verdict != hc.StatusOK {
		code = http.StatusServiceUnavailable
	}

	body := api.encode(ctx, results)

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", cacheControl)
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		api.logger.Debug(ctx, "write health response", "error", err)
	}

	api.logger.Debug(ctx, "served health results",
		"tags", strings.Join(opts.Tags, ","),
		"mode", opts.Mode.String(),
		"matched", len(results),
		"status", verdict.String(),
	)
}

// encode renders {"results":[...]}. Each entry is marshalled on its own so
// one bad entry is dropped instead of failing the whole body.
func (api *API) encode(ctx context.Context, results []hc.ExecutionResult) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"results":[`)
	first := true
	for _, res := range results {
		b, err := api.marshal(resultEntry{
			Name:   res.Metadata.Title(),
			Status: res.Result.Status,
			TimeMs: res.Elapsed.Milliseconds(),
		})
		if err != nil {
			err = xerrors.Wrapf(hc.ErrSerialization, "encode result %s: %v", res.Metadata.Name, err)
			api.logger.Error(ctx, err, "dropping health result from response", "check", res.Metadata.Name)
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.Write(b)
	}
	buf.WriteString(`]}`)
	return buf.Bytes()
}

// ParseOptions reads the tag filter from the query. Tags are separated by
// any run of commas, semicolons and spaces. combineTagsOr defaults to true;
// any value other than "true" (case-insensitive) selects AND.
func ParseOptions(q url.Values) hc.ExecutionOptions {
	opts := hc.ExecutionOptions{
		Tags: splitTags(q.Get(ParamTags)),
		Mode: hc.TagsOr,
	}
	if q.Has(ParamCombineTagsOr) && !strings.EqualFold(q.Get(ParamCombineTagsOr), "true") {
		opts.Mode = hc.TagsAnd
	}
	return opts
}

func splitTags(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' '
	})
}
