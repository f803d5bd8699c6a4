package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/aem-healthcheck/internal/cfg"
	"github.com/keithlinneman/aem-healthcheck/internal/checks"
	"github.com/keithlinneman/aem-healthcheck/internal/hc"
	"github.com/keithlinneman/aem-healthcheck/internal/health"
	"github.com/keithlinneman/aem-healthcheck/internal/healthhttp"
	"github.com/keithlinneman/aem-healthcheck/internal/hoststate"
	"github.com/keithlinneman/aem-healthcheck/internal/httpmw"
	"github.com/keithlinneman/aem-healthcheck/internal/httpserver"
	"github.com/keithlinneman/aem-healthcheck/internal/log"
	"github.com/keithlinneman/aem-healthcheck/internal/metrics"
	"github.com/keithlinneman/aem-healthcheck/internal/opshttp"
	"github.com/keithlinneman/aem-healthcheck/internal/otelx"
	"github.com/keithlinneman/aem-healthcheck/internal/prof"
	"github.com/keithlinneman/aem-healthcheck/internal/ratelimit"
	v "github.com/keithlinneman/aem-healthcheck/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			v.App, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Validate already parsed these
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.App,
		Version:           vi.Version,
		Commit:            vi.Commit,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Short(),
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"check_timeout", conf.CheckTimeout.String(),
		"checks_config", conf.ChecksConfig,
		"checks_config_ssm_param", conf.ChecksConfigSSMParam,
		"snapshot_file", conf.SnapshotFile,
		"snapshot_s3_bucket", conf.SnapshotS3Bucket,
		"snapshot_s3_key", conf.SnapshotS3Key,
		"snapshot_signed", conf.SnapshotSigningKeyARN != "",
		"poll_interval", conf.PollInterval.String(),
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_pprof", conf.EnablePprof,
	)

	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.App,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.App,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  conf.OTLPInsecure,
		Sample:    conf.TraceSample,
		Service:   v.App,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, tracing disabled")
		shutdownOTEL, _ = otelx.Init(ctx, otelx.Options{})
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.App, "server", vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	// AWS is only needed for S3 snapshots, KMS verification or SSM config.
	var awsCfg aws.Config
	if conf.UsesS3() || conf.SnapshotSigningKeyARN != "" || conf.ChecksConfigSSMParam != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
	}

	checksConf, err := loadChecksConfig(ctx, conf, awsCfg)
	if err != nil {
		L.Error(ctx, err, "failed to load check configuration")
		os.Exit(1)
	}

	store := hoststate.NewStore(conf.SnapshotMaxAge)
	source, err := snapshotSource(L, conf, awsCfg)
	if err != nil {
		L.Error(ctx, err, "failed to configure host state source")
		os.Exit(1)
	}
	watcher := hoststate.NewWatcher(hoststate.WatcherOptions{
		Logger:         L,
		Source:         source,
		Store:          store,
		PollInterval:   conf.PollInterval,
		OnSwap:         m.SetSnapshot,
		Metrics:        m,
		StaleThreshold: conf.StaleThreshold,
	})
	// Not fatal: readiness stays down and the checks report CRITICAL until
	// the watcher catches up.
	if err := watcher.LoadInitial(ctx); err != nil {
		L.Error(ctx, err, "initial host state load failed, will keep polling")
	}
	go func() { _ = watcher.Run(ctx) }()

	registry, err := checks.Initialize(checksConf, checks.Deps{
		Bundles: store,
		Agents:  store,
		Jobs:    store,
	})
	if err != nil {
		L.Error(ctx, err, "failed to register health checks")
		os.Exit(1)
	}
	L.Info(ctx, "health checks registered", "count", registry.Len())

	executor := hc.NewExecutor(hc.ExecutorOptions{
		Registry: registry,
		Logger:   L,
		Timeout:  conf.CheckTimeout,
		Observer: m,
	})
	api := healthhttp.NewAPI(executor, L, m)

	var gate health.ShutdownGate
	readiness := health.All(gate.Signal(), health.FromErr(store.ReadyErr))

	exempt, _ := conf.ExemptPrefixes()
	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.RateLimit, conf.RateBurst),
		ratelimit.WithExempt(exempt...),
		ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied() }),
		// logged once per visitor until it is evicted
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "client.address", ip)
		}),
		ratelimit.WithOnCapacity(func(ip string) {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit table full, rejecting new client", "client.address", ip)
		}),
	)

	publicStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		WriteTimeout: httpserver.WriteTimeoutFor(conf.CheckTimeout, registry.Len()),
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		ClientIP:     httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		HSTS:         conf.HSTS,
		Live:         health.Up(),
		Ready:        readiness,
		APIRoutes:    api.RegisterRoutes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start public http listener")
		os.Exit(1)
	}
	defer func() { _ = publicStop(context.Background()) }()

	// the admin port must stay off the load balancer; opshttp also rejects
	// public peers in case a security group is misconfigured
	opsStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Live:         health.Up(),
		Ready:        readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	<-ctx.Done()
	stop()
	L.Info(context.Background(), "shutdown signal received")

	// fail readiness first so the load balancer stops routing here
	gate.Begin("draining")
	L.Info(context.Background(), "readiness gate closed, draining", "delay", conf.ShutdownDelay.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.ShutdownDelay):
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := publicStop(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "public http server shutdown")
	}
	if err := opsStop(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "ops http server shutdown")
	}
	if err := checks.Shutdown(registry); err != nil {
		L.Error(shutdownCtx, err, "health check shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "otel shutdown")
	}
	stopProf()

	L.Info(shutdownCtx, "shutdown complete")
}

// loadChecksConfig reads the check configuration once. Without a file or
// parameter the built-in defaults apply.
func loadChecksConfig(ctx context.Context, conf cfg.App, awsCfg aws.Config) (checks.Config, error) {
	switch {
	case conf.ChecksConfig != "":
		return checks.LoadConfigFile(conf.ChecksConfig)
	case conf.ChecksConfigSSMParam != "":
		return checks.LoadConfigSSM(ctx, ssm.NewFromConfig(awsCfg), conf.ChecksConfigSSMParam)
	}
	return checks.DefaultConfig(), nil
}

func snapshotSource(L log.Logger, conf cfg.App, awsCfg aws.Config) (hoststate.Source, error) {
	var verifier hoststate.Verifier
	if conf.SnapshotSigningKeyARN != "" {
		verifier = hoststate.NewKMSVerifier(kms.NewFromConfig(awsCfg), conf.SnapshotSigningKeyARN)
	}
	if !conf.UsesS3() {
		return &hoststate.FileSource{Path: conf.SnapshotFile, Verifier: verifier}, nil
	}
	src, err := hoststate.NewS3Source(hoststate.S3Options{
		Logger:   L,
		Client:   s3.NewFromConfig(awsCfg),
		Bucket:   conf.SnapshotS3Bucket,
		Key:      conf.SnapshotS3Key,
		Verifier: verifier,
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}

func notifySystemd() error {
	// set by systemd for Type=notify units
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify dial: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify write: %w", err)
	}
	return conn.Close()
}
