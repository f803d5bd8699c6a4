package hc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/aem-healthcheck/internal/log"
	"github.com/keithlinneman/aem-healthcheck/internal/xerrors"
)

// Observer is implemented by the metrics package to record probe executions.
type Observer interface {
	ObserveCheck(name string, status Status, elapsed time.Duration, timedOut bool)
}

type ExecutorOptions struct {
	Registry *Registry
	Logger   log.Logger

	// Timeout bounds each probe. Zero waits for every probe to return.
	Timeout time.Duration

	// Observer is optional.
	Observer Observer

	// Tracer defaults to the global provider's "aem-healthcheck/hc" tracer.
	Tracer trace.Tracer
}

// Executor runs the probes selected from a registry. It holds no per-call
// state and is safe for concurrent use.
type Executor struct {
	registry *Registry
	logger   log.Logger
	timeout  time.Duration
	observer Observer
	tracer   trace.Tracer
	now      func() time.Time
}

func NewExecutor(opts ExecutorOptions) *Executor {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("aem-healthcheck/hc")
	}
	return &Executor{
		registry: opts.Registry,
		logger:   opts.Logger,
		timeout:  opts.Timeout,
		observer: opts.Observer,
		tracer:   opts.Tracer,
		now:      time.Now,
	}
}

// Execute runs every probe matching opts, one after another, and returns one
// result per probe in registry order. It never fails: probe failures become
// CRITICAL results.
func (e *Executor) Execute(ctx context.Context, opts ExecutionOptions) []ExecutionResult {
	probes := e.registry.FindByTags(opts.Tags, opts.Mode)
	e.logger.Debug(ctx, "executing health checks",
		"tags", opts.Tags,
		"mode", opts.Mode.String(),
		"matched", len(probes),
	)

	out := make([]ExecutionResult, 0, len(probes))
	for _, p := range probes {
		out = append(out, e.run(ctx, p))
	}
	return out
}

func (e *Executor) run(ctx context.Context, p Probe) ExecutionResult {
	ctx, span := e.tracer.Start(ctx, "hc.execute",
		trace.WithAttributes(attribute.String("hc.check", p.Name)),
	)
	defer span.End()

	start := e.now()
	res, timedOut, err := e.call(ctx, p)
	finished := e.now()
	elapsed := finished.Sub(start)

	if err != nil {
		res = Errored(err)
		span.RecordError(err)
	}
	span.SetAttributes(
		attribute.String("hc.status", res.Status.String()),
		attribute.Bool("hc.timed_out", timedOut),
	)
	if !res.OK() {
		span.SetStatus(codes.Error, res.Status.String())
	}

	if e.observer != nil {
		e.observer.ObserveCheck(p.Name, res.Status, elapsed, timedOut)
	}
	e.report(ctx, p, res, elapsed, err)

	return ExecutionResult{
		Metadata:   p.Metadata,
		Result:     res,
		Elapsed:    elapsed,
		FinishedAt: finished,
		TimedOut:   timedOut,
	}
}

// call runs the check, waiting at most e.timeout. An abandoned check keeps
// running; only its context is cancelled.
func (e *Executor) call(ctx context.Context, p Probe) (Result, bool, error) {
	if e.timeout <= 0 {
		res, err := safeExecute(ctx, p.Check)
		return res, false, err
	}

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := safeExecute(cctx, p.Check)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, false, o.err
	case <-cctx.Done():
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return Result{}, true, xerrors.WithStack(fmt.Errorf("%w after %s", ErrCheckTimeout, e.timeout))
		}
		return Result{}, false, xerrors.Wrap(cctx.Err(), "execution cancelled")
	}
}

func safeExecute(ctx context.Context, c Check) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.WithStack(fmt.Errorf("%w: %v", ErrCheckPanic, r))
		}
	}()
	return c.Execute(ctx), nil
}

func (e *Executor) report(ctx context.Context, p Probe, res Result, elapsed time.Duration, err error) {
	L := e.logger.With("check", p.Name, "status", res.Status.String(), "elapsed_ms", elapsed.Milliseconds())
	if err != nil {
		L.Error(ctx, err, "health check failed")
		return
	}
	if res.OK() {
		L.Debug(ctx, "health check passed")
		return
	}
	msgs := make([]string, 0, len(res.Entries))
	for _, en := range res.Entries {
		if en.Level >= LevelWarn {
			msgs = append(msgs, en.Message)
		}
	}
	L.Warn(ctx, "health check not ok", "entries", msgs)
}
