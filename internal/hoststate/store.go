package hoststate

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/keithlinneman/aem-healthcheck/internal/xerrors"
)

// Store publishes the active snapshot. Reads are lock-free; a Set replaces
// the whole snapshot at once, so readers never see a partial update.
type Store struct {
	active atomic.Pointer[Snapshot]
	maxAge time.Duration
	now    func() time.Time
}

// NewStore returns an empty store. A positive maxAge makes reads fail with
// ErrStale once the active snapshot is older than maxAge.
func NewStore(maxAge time.Duration) *Store {
	return &Store{maxAge: maxAge, now: time.Now}
}

// Set makes snap the active snapshot. The store keeps its own copy.
func (s *Store) Set(snap Snapshot) {
	cp := new(Snapshot)
	*cp = snap
	if cp.Meta.LoadedAt.IsZero() {
		cp.Meta.LoadedAt = s.now().UTC()
	}
	if cp.Meta.Source == "" {
		cp.Meta.Source = SourceUnknown
	}
	s.active.Store(cp)
}

// Get returns the active snapshot, if any, without the staleness check.
// Callers must treat it as read-only.
func (s *Store) Get() (*Snapshot, bool) {
	snap := s.active.Load()
	return snap, snap != nil
}

// Age is the time since the active snapshot was captured, falling back to
// when it was loaded.
func (s *Store) Age() (time.Duration, bool) {
	snap := s.active.Load()
	if snap == nil {
		return 0, false
	}
	at := snap.CapturedAt
	if at.IsZero() {
		at = snap.Meta.LoadedAt
	}
	return s.now().Sub(at), true
}

func (s *Store) current() (*Snapshot, error) {
	snap := s.active.Load()
	if snap == nil {
		return nil, xerrors.WithStack(ErrNoSnapshot)
	}
	if s.maxAge > 0 {
		if age, _ := s.Age(); age > s.maxAge {
			return nil, xerrors.Wrapf(ErrStale, "captured %s ago, max age %s", age.Truncate(time.Second), s.maxAge)
		}
	}
	return snap, nil
}

// Bundles implements the bundle collaborator.
func (s *Store) Bundles(context.Context) ([]Bundle, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	return snap.Bundles, nil
}

// Agents implements the replication agent collaborator.
func (s *Store) Agents(context.Context) ([]Agent, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	return snap.Agents, nil
}

// JobManager implements the job collaborator. A nil manager with a nil
// error means the instance has no job manager.
func (s *Store) JobManager(context.Context) (*JobManager, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	return snap.Jobs, nil
}

// ReadyErr reports whether a snapshot has been loaded. Staleness is left to
// the checks so an old snapshot still reports through the health endpoint.
func (s *Store) ReadyErr() error {
	if _, ok := s.Get(); !ok {
		return ErrNoSnapshot
	}
	return nil
}

// Version returns the source version of the active snapshot.
func (s *Store) Version() string {
	if snap := s.active.Load(); snap != nil {
		return snap.Meta.Version
	}
	return ""
}
