// Package checks holds the built-in AEM health checks and the startup and
// teardown of the probe registry.
package checks

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/keithlinneman/aem-healthcheck/internal/hc"
	"github.com/keithlinneman/aem-healthcheck/internal/hoststate"
	"github.com/keithlinneman/aem-healthcheck/internal/xerrors"
)

// BundleSource lists the OSGi bundles of the instance.
type BundleSource interface {
	Bundles(ctx context.Context) ([]hoststate.Bundle, error)
}

// AgentSource lists replication agents.
type AgentSource interface {
	Agents(ctx context.Context) ([]hoststate.Agent, error)
}

// JobSource returns the job manager, or nil when the instance has none.
type JobSource interface {
	JobManager(ctx context.Context) (*hoststate.JobManager, error)
}

// Deps are the read-only collaborators the checks inspect. Now defaults to
// time.Now.
type Deps struct {
	Bundles BundleSource
	Agents  AgentSource
	Jobs    JobSource
	Now     func() time.Time
}

const (
	NameSmoke       = "smoke"
	NameBundles     = "bundles"
	NameReplication = "replication"
	NameJobs        = "jobs"
)

type constructor struct {
	meta  hc.Metadata
	opts  func(Config) Common
	build func(Config, Deps) (hc.Check, error)
}

var builtins = []constructor{
	{
		meta: hc.Metadata{
			Name:        NameSmoke,
			DisplayName: "Smoke Health Check",
			Description: "This health check determines if an instance is ready to serve requests",
			Tags:        []string{"shallow", "devops", "deep"},
		},
		opts: func(c Config) Common { return c.Smoke.Common },
		build: func(_ Config, d Deps) (hc.Check, error) {
			return NewSmokeCheck(d.Now), nil
		},
	},
	{
		meta: hc.Metadata{
			Name:        NameBundles,
			DisplayName: "Bundle Health Check",
			Description: "This health check scans the current OSGi bundles and reports if there is any inactive bundles.",
			Tags:        []string{"deep"},
		},
		opts: func(c Config) Common { return c.Bundles.Common },
		build: func(c Config, d Deps) (hc.Check, error) {
			if d.Bundles == nil {
				return nil, xerrors.Wrap(hc.ErrConfiguration, "bundles check requires a bundle source")
			}
			return NewBundleCheck(d.Bundles, c.Bundles.Ignored), nil
		},
	},
	{
		meta: hc.Metadata{
			Name:        NameReplication,
			DisplayName: "Replication Queue Health Check",
			Description: "This health check checks the replication queue of agents.",
			Tags:        []string{"deep"},
		},
		opts: func(c Config) Common { return c.Replication.Common },
		build: func(c Config, d Deps) (hc.Check, error) {
			if d.Agents == nil {
				return nil, xerrors.Wrap(hc.ErrConfiguration, "replication check requires an agent source")
			}
			return NewReplicationCheck(d.Agents, c.Replication), nil
		},
	},
	{
		meta: hc.Metadata{
			Name:        NameJobs,
			DisplayName: "Sling Jobs Health Check",
			Description: "This health check tests the number of active jobs and their general health in the queue.",
			Tags:        []string{"deep"},
		},
		opts: func(c Config) Common { return c.Jobs.Common },
		build: func(c Config, d Deps) (hc.Check, error) {
			if d.Jobs == nil {
				return nil, xerrors.Wrap(hc.ErrConfiguration, "jobs check requires a job source")
			}
			return NewJobsCheck(d.Jobs, c.Jobs), nil
		},
	},
}

// Initialize validates cfg and registers every enabled built-in check. Any
// error is fatal: the registry is only returned complete.
func Initialize(cfg Config, deps Deps) (*hc.Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg := hc.NewRegistry()
	for _, b := range builtins {
		common := b.opts(cfg)
		if common.Disabled {
			continue
		}
		check, err := b.build(cfg, deps)
		if err != nil {
			return nil, err
		}
		meta := b.meta
		if len(common.Tags) > 0 {
			meta.Tags = common.Tags
		}
		if err := reg.Register(hc.Probe{Metadata: meta, Check: check}); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Shutdown closes every registered check that holds resources.
func Shutdown(reg *hc.Registry) error {
	if reg == nil {
		return nil
	}
	var errs []error
	for _, p := range reg.Probes() {
		if c, ok := p.Check.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, xerrors.Wrapf(err, "close check %s", p.Name))
			}
		}
	}
	return errors.Join(errs...)
}
