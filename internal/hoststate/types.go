package hoststate

import (
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/aem-healthcheck/internal/xerrors"
)

// BundleState is the OSGi bundle state bit.
type BundleState int

const (
	BundleUninstalled BundleState = 1
	BundleInstalled   BundleState = 2
	BundleResolved    BundleState = 4
	BundleStarting    BundleState = 8
	BundleStopping    BundleState = 16
	BundleActive      BundleState = 32
)

var bundleStateNames = map[BundleState]string{
	BundleUninstalled: "UNINSTALLED",
	BundleInstalled:   "INSTALLED",
	BundleResolved:    "RESOLVED",
	BundleStarting:    "STARTING",
	BundleStopping:    "STOPPING",
	BundleActive:      "ACTIVE",
}

func (s BundleState) String() string {
	if n, ok := bundleStateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// UnmarshalYAML accepts either the numeric OSGi value or the state name.
func (s *BundleState) UnmarshalYAML(value *yaml.Node) error {
	raw := strings.TrimSpace(value.Value)
	if n, err := strconv.Atoi(raw); err == nil {
		*s = BundleState(n)
		return nil
	}
	for st, name := range bundleStateNames {
		if strings.EqualFold(name, raw) {
			*s = st
			return nil
		}
	}
	return xerrors.Newf("line %d: unknown bundle state %q", value.Line, raw)
}

const (
	HeaderFragmentHost     = "Fragment-Host"
	HeaderActivationPolicy = "Bundle-ActivationPolicy"
	ActivationPolicyLazy   = "lazy"
)

type Bundle struct {
	ID           int64             `yaml:"id" json:"id"`
	SymbolicName string            `yaml:"symbolic_name" json:"symbolic_name"`
	Version      string            `yaml:"version,omitempty" json:"version,omitempty"`
	State        BundleState       `yaml:"state" json:"state"`
	Headers      map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// IsFragment reports whether the bundle declares a Fragment-Host. Fragments
// never reach ACTIVE.
func (b Bundle) IsFragment() bool {
	_, ok := b.Headers[HeaderFragmentHost]
	return ok
}

// IsLazy reports a lazy activation policy; such bundles stay STARTING until
// first use.
func (b Bundle) IsLazy() bool {
	return b.Headers[HeaderActivationPolicy] == ActivationPolicyLazy
}

// ConsideredActive is true for ACTIVE bundles, fragments and lazily
// activated bundles.
func (b Bundle) ConsideredActive() bool {
	return b.State == BundleActive || b.IsFragment() || b.IsLazy()
}

// Agent is a replication agent and its queue.
type Agent struct {
	ID      string           `yaml:"id" json:"id"`
	Valid   bool             `yaml:"valid" json:"valid"`
	Enabled bool             `yaml:"enabled" json:"enabled"`
	Queue   ReplicationQueue `yaml:"queue" json:"queue"`
}

type ReplicationQueue struct {
	Name string `yaml:"name" json:"name"`
	// NextRetryTime is set while the queue is blocked waiting to retry its
	// head entry.
	NextRetryTime *time.Time   `yaml:"next_retry_time,omitempty" json:"next_retry_time,omitempty"`
	Entries       []QueueEntry `yaml:"entries,omitempty" json:"entries,omitempty"`
}

// Blocked reports whether the queue is waiting on a retry.
func (q ReplicationQueue) Blocked() bool {
	return q.NextRetryTime != nil && !q.NextRetryTime.IsZero()
}

type QueueEntry struct {
	ID           string `yaml:"id" json:"id"`
	Path         string `yaml:"path,omitempty" json:"path,omitempty"`
	NumProcessed int    `yaml:"num_processed" json:"num_processed"`
}

// JobManager is the Sling job manager view. Queues may be empty.
type JobManager struct {
	Queues     []JobQueue    `yaml:"queues,omitempty" json:"queues,omitempty"`
	Statistics JobStatistics `yaml:"statistics" json:"statistics"`
}

type JobQueue struct {
	Name      string `yaml:"name" json:"name"`
	StateInfo string `yaml:"state_info" json:"state_info"`
}

// JobStatistics are the aggregate job manager counters. Average times are in
// milliseconds.
type JobStatistics struct {
	Jobs                  int64 `yaml:"jobs" json:"jobs"`
	Queued                int64 `yaml:"queued" json:"queued"`
	Active                int64 `yaml:"active" json:"active"`
	Cancelled             int64 `yaml:"cancelled" json:"cancelled"`
	Failed                int64 `yaml:"failed" json:"failed"`
	AverageProcessingTime int64 `yaml:"average_processing_ms" json:"average_processing_ms"`
	AverageWaitingTime    int64 `yaml:"average_waiting_ms" json:"average_waiting_ms"`
}

// Snapshot is the exported host state at one point in time. Jobs is nil
// when the instance has no job manager.
type Snapshot struct {
	CapturedAt time.Time   `yaml:"captured_at" json:"captured_at"`
	Bundles    []Bundle    `yaml:"bundles" json:"bundles"`
	Agents     []Agent     `yaml:"agents" json:"agents"`
	Jobs       *JobManager `yaml:"jobs,omitempty" json:"jobs,omitempty"`

	Meta Meta `yaml:"-" json:"-"`
}

type SourceKind string

const (
	SourceUnknown SourceKind = "unknown"
	SourceFile    SourceKind = "file"
	SourceS3      SourceKind = "s3"
)

// Meta describes where a snapshot was loaded from.
type Meta struct {
	Source   SourceKind
	Location string
	Version  string
	SHA256   string
	Verified bool
	LoadedAt time.Time
}
