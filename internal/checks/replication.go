package checks

import (
	"context"
	"time"

	"github.com/keithlinneman/aem-healthcheck/internal/hc"
	"github.com/keithlinneman/aem-healthcheck/internal/xerrors"
)

// ReplicationCheck inspects the queues of valid, enabled replication agents.
type ReplicationCheck struct {
	src AgentSource
	cfg ReplicationConfig
}

func NewReplicationCheck(src AgentSource, cfg ReplicationConfig) *ReplicationCheck {
	return &ReplicationCheck{src: src, cfg: cfg}
}

func (c *ReplicationCheck) Execute(ctx context.Context) hc.Result {
	agents, err := c.src.Agents(ctx)
	if err != nil {
		return hc.Errored(xerrors.Wrap(err, "list replication agents"))
	}

	var l hc.ResultLog
	if len(agents) == 0 {
		l.Infof("No agents configured")
	}

	for _, a := range agents {
		if !a.Valid || !a.Enabled {
			c.cfg.DisabledAgent.report(&l, "Agent [%s] is not valid and/or not enabled.", a.ID)
			continue
		}

		q := a.Queue
		if q.Blocked() {
			c.cfg.BlockedQueue.report(&l, "Agent [%s] replication queue %s is blocked, next retry at %s.",
				a.ID, q.Name, q.NextRetryTime.UTC().Format(time.RFC3339))
		}
		if len(q.Entries) == 0 {
			l.Debugf("Agent [%s] replication queue %s is empty.", a.ID, q.Name)
			continue
		}
		if first := q.Entries[0]; first.NumProcessed > c.cfg.MaxRetries {
			l.Warnf("Agent [%s] number of retries: %d, expected number of retries <= %d",
				a.ID, first.NumProcessed, c.cfg.MaxRetries)
		}
		if c.cfg.MaxQueueDepth > 0 && len(q.Entries) > c.cfg.MaxQueueDepth {
			c.cfg.QueueDepth.report(&l, "Agent [%s] replication queue %s holds %d entries, expected <= %d",
				a.ID, q.Name, len(q.Entries), c.cfg.MaxQueueDepth)
		}
	}
	return l.Result()
}
