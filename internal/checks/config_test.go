package checks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/keithlinneman/aem-healthcheck/internal/hc"
)

func TestParseConfig_EmptyIsDefault(t *testing.T) {
	cfg, err := ParseConfig(nil)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	def := DefaultConfig()
	if cfg.Replication.MaxRetries != def.Replication.MaxRetries || cfg.Jobs.MaxQueued != def.Jobs.MaxQueued {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Jobs.OverThreshold != PolicyWarn {
		t.Fatalf("over_threshold = %q", cfg.Jobs.OverThreshold)
	}
}

func TestParseConfig_Overrides(t *testing.T) {
	doc := `
smoke:
  tags: [shallow]
bundles:
  ignored:
    - com.adobe.cq.social.cq-social-translation
    - org.apache.sling.jcr.webdav
replication:
  max_retries: 5
  disabled_agent: warn
  queue_depth: critical
  max_queue_depth: 100
jobs:
  disabled: true
`
	cfg, err := ParseConfig([]byte(doc))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if !slices.Equal(cfg.Smoke.Tags, []string{"shallow"}) {
		t.Fatalf("smoke tags = %v", cfg.Smoke.Tags)
	}
	if len(cfg.Bundles.Ignored) != 2 {
		t.Fatalf("ignored = %v", cfg.Bundles.Ignored)
	}
	r := cfg.Replication
	if r.MaxRetries != 5 || r.DisabledAgent != PolicyWarn || r.QueueDepth != PolicyCritical || r.MaxQueueDepth != 100 {
		t.Fatalf("replication = %+v", r)
	}
	if r.BlockedQueue != PolicyIgnore {
		t.Fatalf("unset policy should keep default, got %q", r.BlockedQueue)
	}
	if !cfg.Jobs.Disabled || cfg.Jobs.MaxQueued != DefaultMaxQueued {
		t.Fatalf("jobs = %+v", cfg.Jobs)
	}
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "bundle:\n  ignored: [a]\n"},
		{"bad policy", "jobs:\n  over_threshold: loud\n"},
		{"negative retries", "replication:\n  max_retries: -1\n"},
		{"not yaml", "::::"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConfig([]byte(tt.doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	_, err := ParseConfig([]byte("jobs:\n  failed_jobs: maybe\n"))
	if !errors.Is(err, hc.ErrConfiguration) {
		t.Fatalf("bad policy err = %v, want ErrConfiguration", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checks.yaml")
	if err := os.WriteFile(path, []byte("replication:\n  max_retries: 7\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Replication.MaxRetries != 7 {
		t.Fatalf("max_retries = %d", cfg.Replication.MaxRetries)
	}

	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file should fail")
	}
}

type fakeSSM struct {
	value *string
	err   error
	in    *ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: f.value}}, nil
}

func TestLoadConfigSSM(t *testing.T) {
	f := &fakeSSM{value: aws.String("jobs:\n  max_queued: 50\n")}
	cfg, err := LoadConfigSSM(context.Background(), f, "/aem/healthcheck/checks")
	if err != nil {
		t.Fatalf("LoadConfigSSM: %v", err)
	}
	if cfg.Jobs.MaxQueued != 50 {
		t.Fatalf("max_queued = %d", cfg.Jobs.MaxQueued)
	}
	if aws.ToString(f.in.Name) != "/aem/healthcheck/checks" || !aws.ToBool(f.in.WithDecryption) {
		t.Fatalf("input = %+v", f.in)
	}

	if _, err := LoadConfigSSM(context.Background(), &fakeSSM{}, "/x"); err == nil {
		t.Fatal("nil value should fail")
	}
	if _, err := LoadConfigSSM(context.Background(), &fakeSSM{err: errors.New("ParameterNotFound")}, "/x"); err == nil {
		t.Fatal("ssm error should propagate")
	}
}
