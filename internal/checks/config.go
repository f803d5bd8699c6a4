package checks

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/aem-healthcheck/internal/hc"
	"github.com/keithlinneman/aem-healthcheck/internal/xerrors"
)

// Policy decides how a condition the original checks left undecided is
// reported: as a DEBUG line, a WARN or a CRITICAL.
type Policy string

const (
	PolicyIgnore   Policy = "ignore"
	PolicyWarn     Policy = "warn"
	PolicyCritical Policy = "critical"
)

func (p Policy) validate(field string) error {
	switch p {
	case PolicyIgnore, PolicyWarn, PolicyCritical:
		return nil
	default:
		return xerrors.Wrapf(hc.ErrConfiguration, "%s: unknown policy %q (valid: ignore|warn|critical)", field, p)
	}
}

// report adds the message at the level the policy maps to.
func (p Policy) report(l *hc.ResultLog, format string, args ...any) {
	switch p {
	case PolicyCritical:
		l.Criticalf(format, args...)
	case PolicyWarn:
		l.Warnf(format, args...)
	default:
		l.Debugf(format, args...)
	}
}

// Common holds the options every check accepts.
type Common struct {
	Disabled bool `yaml:"disabled"`
	// Tags replaces the check's default tags when non-empty.
	Tags []string `yaml:"tags,omitempty"`
}

type SmokeConfig struct {
	Common `yaml:",inline"`
}

type BundlesConfig struct {
	Common `yaml:",inline"`
	// Ignored lists bundle symbolic names never reported as inactive.
	Ignored []string `yaml:"ignored,omitempty"`
}

type ReplicationConfig struct {
	Common `yaml:",inline"`

	// MaxRetries is how often the head entry may be processed before the
	// queue is reported.
	MaxRetries int `yaml:"max_retries"`

	DisabledAgent Policy `yaml:"disabled_agent"`
	BlockedQueue  Policy `yaml:"blocked_queue"`

	// QueueDepth applies when a queue holds more than MaxQueueDepth entries.
	// MaxQueueDepth 0 turns the depth check off.
	QueueDepth    Policy `yaml:"queue_depth"`
	MaxQueueDepth int    `yaml:"max_queue_depth"`
}

type JobsConfig struct {
	Common `yaml:",inline"`

	MaxQueued     int64  `yaml:"max_queued"`
	OverThreshold Policy `yaml:"over_threshold"`

	FailedJobs Policy `yaml:"failed_jobs"`
	MaxFailed  int64  `yaml:"max_failed"`
}

// Config is the check configuration. It is loaded once at startup and not
// changed afterwards.
type Config struct {
	Smoke       SmokeConfig       `yaml:"smoke"`
	Bundles     BundlesConfig     `yaml:"bundles"`
	Replication ReplicationConfig `yaml:"replication"`
	Jobs        JobsConfig        `yaml:"jobs"`
}

const (
	DefaultMaxRetries = 3
	DefaultMaxQueued  = 1000
)

// DefaultConfig enables every check with the original thresholds. Conditions
// the original did not report stay at PolicyIgnore.
func DefaultConfig() Config {
	return Config{
		Replication: ReplicationConfig{
			MaxRetries:    DefaultMaxRetries,
			DisabledAgent: PolicyIgnore,
			BlockedQueue:  PolicyIgnore,
			QueueDepth:    PolicyIgnore,
		},
		Jobs: JobsConfig{
			MaxQueued:     DefaultMaxQueued,
			OverThreshold: PolicyWarn,
			FailedJobs:    PolicyIgnore,
		},
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Replication.MaxRetries < 0 {
		errs = append(errs, xerrors.Wrap(hc.ErrConfiguration, "replication.max_retries must be >= 0"))
	}
	if c.Replication.MaxQueueDepth < 0 {
		errs = append(errs, xerrors.Wrap(hc.ErrConfiguration, "replication.max_queue_depth must be >= 0"))
	}
	if c.Jobs.MaxQueued < 0 {
		errs = append(errs, xerrors.Wrap(hc.ErrConfiguration, "jobs.max_queued must be >= 0"))
	}
	if c.Jobs.MaxFailed < 0 {
		errs = append(errs, xerrors.Wrap(hc.ErrConfiguration, "jobs.max_failed must be >= 0"))
	}
	for field, p := range map[string]Policy{
		"replication.disabled_agent": c.Replication.DisabledAgent,
		"replication.blocked_queue":  c.Replication.BlockedQueue,
		"replication.queue_depth":    c.Replication.QueueDepth,
		"jobs.over_threshold":        c.Jobs.OverThreshold,
		"jobs.failed_jobs":           c.Jobs.FailedJobs,
	} {
		if err := p.validate(field); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ParseConfig decodes YAML over DefaultConfig, so omitted keys keep their
// defaults. Unknown keys are an error.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, xerrors.Wrap(err, "decode check config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, xerrors.Wrapf(err, "read check config %s", path)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, xerrors.Wrapf(err, "check config %s", path)
	}
	return cfg, nil
}

// SSMGetParameterAPI is the subset of the SSM client LoadConfigSSM uses.
type SSMGetParameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadConfigSSM reads the YAML document from an SSM parameter, decrypting
// SecureString values.
func LoadConfigSSM(ctx context.Context, client SSMGetParameterAPI, name string) (Config, error) {
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return Config{}, xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return Config{}, xerrors.Newf("SSM parameter %s has no value", name)
	}
	cfg, err := ParseConfig([]byte(strings.TrimSpace(*out.Parameter.Value)))
	if err != nil {
		return Config{}, xerrors.Wrapf(err, "SSM parameter %s", name)
	}
	return cfg, nil
}
