package checks

import (
	"context"
	"time"

	units "github.com/docker/go-units"

	"github.com/keithlinneman/aem-healthcheck/internal/hc"
	"github.com/keithlinneman/aem-healthcheck/internal/xerrors"
)

// JobsCheck reports Sling job manager queues and counters.
type JobsCheck struct {
	src JobSource
	cfg JobsConfig
}

func NewJobsCheck(src JobSource, cfg JobsConfig) *JobsCheck {
	return &JobsCheck{src: src, cfg: cfg}
}

func (c *JobsCheck) Execute(ctx context.Context) hc.Result {
	jm, err := c.src.JobManager(ctx)
	if err != nil {
		return hc.Errored(xerrors.Wrap(err, "read job manager"))
	}

	var l hc.ResultLog
	if jm == nil {
		l.Infof("No Job Manager available")
		return l.Result()
	}

	if len(jm.Queues) == 0 {
		l.Infof("There are currently no queues available.")
	}
	for _, q := range jm.Queues {
		l.Infof("The queue %s is currently %s", q.Name, q.StateInfo)
	}

	st := jm.Statistics
	count(&l, st.Jobs, "Found %d total jobs.", "Found no jobs in the Job Manager.")
	count(&l, st.Queued, "Found %d queued jobs.", "Found no queued jobs.")
	count(&l, st.Active, "Found %d active jobs.", "Found no active jobs.")
	count(&l, st.Cancelled, "Found %d cancelled jobs.", "Found no cancelled jobs.")
	count(&l, st.Failed, "Found %d failed jobs.", "Found no failed jobs.")

	if st.AverageProcessingTime > 0 {
		l.Debugf("The average processing time is %dms (%s).", st.AverageProcessingTime, humanMillis(st.AverageProcessingTime))
	}
	if st.AverageWaitingTime > 0 {
		l.Debugf("The average waiting time is %dms (%s).", st.AverageWaitingTime, humanMillis(st.AverageWaitingTime))
	}

	if st.Queued > c.cfg.MaxQueued {
		c.cfg.OverThreshold.report(&l, "Found more than %d jobs queued: %d", c.cfg.MaxQueued, st.Queued)
	}
	if c.cfg.FailedJobs != PolicyIgnore && st.Failed > c.cfg.MaxFailed {
		c.cfg.FailedJobs.report(&l, "Found more than %d failed jobs: %d", c.cfg.MaxFailed, st.Failed)
	}
	return l.Result()
}

// count logs INFO for a positive counter and DEBUG for zero.
func count(l *hc.ResultLog, n int64, found, none string) {
	if n > 0 {
		l.Infof(found, n)
		return
	}
	l.Debugf("%s", none)
}

func humanMillis(ms int64) string {
	return units.HumanDuration(time.Duration(ms) * time.Millisecond)
}
