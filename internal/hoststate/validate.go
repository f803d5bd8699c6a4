package hoststate

import (
	"github.com/keithlinneman/aem-healthcheck/internal/xerrors"
)

// Validate checks structural invariants of a snapshot: unique bundle ids,
// named bundles, unique agent ids and non-negative counters.
func Validate(snap *Snapshot) error {
	if snap == nil {
		return xerrors.Wrap(ErrInvalidSnapshot, "nil snapshot")
	}

	seen := make(map[int64]struct{}, len(snap.Bundles))
	for i, b := range snap.Bundles {
		if b.SymbolicName == "" {
			return xerrors.Wrapf(ErrInvalidSnapshot, "bundle[%d] (id %d) has no symbolic name", i, b.ID)
		}
		if _, dup := seen[b.ID]; dup {
			return xerrors.Wrapf(ErrInvalidSnapshot, "duplicate bundle id %d (%s)", b.ID, b.SymbolicName)
		}
		seen[b.ID] = struct{}{}
	}

	agents := make(map[string]struct{}, len(snap.Agents))
	for i, a := range snap.Agents {
		if a.ID == "" {
			return xerrors.Wrapf(ErrInvalidSnapshot, "agent[%d] has no id", i)
		}
		if _, dup := agents[a.ID]; dup {
			return xerrors.Wrapf(ErrInvalidSnapshot, "duplicate agent id %s", a.ID)
		}
		agents[a.ID] = struct{}{}
		for _, e := range a.Queue.Entries {
			if e.NumProcessed < 0 {
				return xerrors.Wrapf(ErrInvalidSnapshot, "agent %s entry %s has negative num_processed", a.ID, e.ID)
			}
		}
	}

	if snap.Jobs != nil {
		st := snap.Jobs.Statistics
		for name, v := range map[string]int64{
			"jobs":      st.Jobs,
			"queued":    st.Queued,
			"active":    st.Active,
			"cancelled": st.Cancelled,
			"failed":    st.Failed,
		} {
			if v < 0 {
				return xerrors.Wrapf(ErrInvalidSnapshot, "job statistic %s is negative (%d)", name, v)
			}
		}
	}
	return nil
}
