package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/aem-healthcheck/internal/log"
)

// EnvPrefix is prepended to upper-cased flag names for env fallback.
const EnvPrefix = "AEMHC_"

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort    int
	AdminPort   int
	EnablePprof bool
	HSTS        bool

	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string

	EnableTracing bool
	OTLPEndpoint  string
	OTLPInsecure  bool
	TraceSample   float64

	CheckTimeout         time.Duration
	ChecksConfig         string
	ChecksConfigSSMParam string

	SnapshotFile          string
	SnapshotS3Bucket      string
	SnapshotS3Key         string
	SnapshotSigningKeyARN string
	PollInterval          time.Duration
	SnapshotMaxAge        time.Duration
	StaleThreshold        time.Duration

	RateLimit       float64
	RateBurst       int
	RateLimitExempt string
	TrustedHops     int

	ShutdownDelay time.Duration
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "public listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", false, "Enable pprof (admin port only)")
	fs.BoolVar(&c.HSTS, "hsts", false, "Send Strict-Transport-Security (only behind TLS termination)")

	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")

	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.BoolVar(&c.OTLPInsecure, "otlp-insecure", true, "Plaintext gRPC to the OTLP endpoint (false uses TLS)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.DurationVar(&c.CheckTimeout, "check-timeout", 10*time.Second, "deadline for one health check execution")
	fs.StringVar(&c.ChecksConfig, "checks-config", "", "YAML file with check configuration")
	fs.StringVar(&c.ChecksConfigSSMParam, "checks-config-ssm-param", "", "SSM parameter holding the check configuration YAML")

	fs.StringVar(&c.SnapshotFile, "snapshot-file", "", "local host state snapshot document")
	fs.StringVar(&c.SnapshotS3Bucket, "snapshot-s3-bucket", "", "s3 bucket holding the host state snapshot")
	fs.StringVar(&c.SnapshotS3Key, "snapshot-s3-key", "", "s3 key of the host state snapshot")
	fs.StringVar(&c.SnapshotSigningKeyARN, "snapshot-signing-key-arn", "", "KMS key ARN that signs snapshots (enables verification)")
	fs.DurationVar(&c.PollInterval, "poll-interval", 30*time.Second, "snapshot source poll interval")
	fs.DurationVar(&c.SnapshotMaxAge, "snapshot-max-age", 0, "checks fail once the snapshot is older than this (0 disables)")
	fs.DurationVar(&c.StaleThreshold, "stale-threshold", 30*time.Minute, "how long polls may fail before the watcher reports stale")

	fs.Float64Var(&c.RateLimit, "rate-limit", 5, "health endpoint requests per second per client")
	fs.IntVar(&c.RateBurst, "rate-burst", 20, "health endpoint burst per client")
	fs.StringVar(&c.RateLimitExempt, "rate-limit-exempt", "", "comma separated CIDRs never rate limited")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "proxies in front of the service whose X-Forwarded-For entries are trusted (0..10)")

	fs.DurationVar(&c.ShutdownDelay, "shutdown-delay", 5*time.Second, "time between failing readiness and stopping listeners")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// ExemptPrefixes parses RateLimitExempt. Bare addresses become single-host
// prefixes.
func (c App) ExemptPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range strings.Split(c.RateLimitExempt, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			a, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("rate limit exempt entry %q: %w", raw, err)
			}
			out = append(out, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("rate limit exempt entry %q: %w", raw, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

// UsesS3 reports whether snapshots come from S3 rather than a local file.
func (c App) UsesS3() bool {
	return c.SnapshotS3Bucket != "" || c.SnapshotS3Key != ""
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Logging
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	// Telemetry
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
	}
	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Checks
	if c.CheckTimeout <= 0 {
		errs = append(errs, fmt.Errorf("CHECK_TIMEOUT must be positive (got %s)", c.CheckTimeout))
	}
	if c.ChecksConfig != "" && c.ChecksConfigSSMParam != "" {
		errs = append(errs, fmt.Errorf("set only one of CHECKS_CONFIG and CHECKS_CONFIG_SSM_PARAM"))
	}

	// Snapshot source
	switch {
	case c.SnapshotFile != "" && c.UsesS3():
		errs = append(errs, fmt.Errorf("set either SNAPSHOT_FILE or SNAPSHOT_S3_BUCKET/KEY, not both"))
	case c.UsesS3() && (c.SnapshotS3Bucket == "" || c.SnapshotS3Key == ""):
		errs = append(errs, fmt.Errorf("SNAPSHOT_S3_BUCKET and SNAPSHOT_S3_KEY are both required"))
	case c.SnapshotFile == "" && !c.UsesS3():
		errs = append(errs, fmt.Errorf("a snapshot source is required (SNAPSHOT_FILE or SNAPSHOT_S3_BUCKET/KEY)"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be positive (got %s)", c.PollInterval))
	}
	if c.SnapshotMaxAge < 0 {
		errs = append(errs, fmt.Errorf("SNAPSHOT_MAX_AGE must not be negative (got %s)", c.SnapshotMaxAge))
	}
	if c.SnapshotMaxAge > 0 && c.SnapshotMaxAge < c.PollInterval {
		errs = append(errs, fmt.Errorf("SNAPSHOT_MAX_AGE %s is shorter than POLL_INTERVAL %s", c.SnapshotMaxAge, c.PollInterval))
	}

	// Public edge
	if c.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT must be positive (got %v)", c.RateLimit))
	}
	if c.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("RATE_BURST must be at least 1 (got %d)", c.RateBurst))
	}
	if _, err := c.ExemptPrefixes(); err != nil {
		errs = append(errs, err)
	}
	if c.TrustedHops < 0 || c.TrustedHops > 10 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be 0..10 (got %d)", c.TrustedHops))
	}
	if c.ShutdownDelay < 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_DELAY must not be negative (got %s)", c.ShutdownDelay))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
