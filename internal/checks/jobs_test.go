package checks

import (
	"context"
	"strings"
	"testing"

	"github.com/keithlinneman/aem-healthcheck/internal/hc"
	"github.com/keithlinneman/aem-healthcheck/internal/hoststate"
)

func runJobs(t *testing.T, jm *hoststate.JobManager, mutate func(*JobsConfig)) hc.Result {
	t.Helper()
	cfg := DefaultConfig().Jobs
	if mutate != nil {
		mutate(&cfg)
	}
	return NewJobsCheck(&fakeHost{jobs: jm}, cfg).Execute(context.Background())
}

func TestJobsCheck_NoJobManager(t *testing.T) {
	res := runJobs(t, nil, nil)
	if !res.OK() || len(res.Entries) != 1 || res.Entries[0].Message != "No Job Manager available" {
		t.Fatalf("result = %+v", res)
	}
}

func TestJobsCheck_EmptyManager(t *testing.T) {
	res := runJobs(t, &hoststate.JobManager{}, nil)
	if !res.OK() {
		t.Fatalf("status = %s", res.Status)
	}
	if !hasEntry(res, hc.LevelInfo, "There are currently no queues available.") {
		t.Fatalf("entries = %+v", res.Entries)
	}
	for _, want := range []string{
		"Found no jobs in the Job Manager.",
		"Found no queued jobs.",
		"Found no active jobs.",
		"Found no cancelled jobs.",
		"Found no failed jobs.",
	} {
		if !hasEntry(res, hc.LevelDebug, want) {
			t.Errorf("missing DEBUG %q", want)
		}
	}
}

func TestJobsCheck_Counts(t *testing.T) {
	jm := &hoststate.JobManager{
		Queues: []hoststate.JobQueue{
			{Name: "Granite Workflow Queue", StateInfo: "active"},
			{Name: "Sling Default Queue", StateInfo: "suspended"},
		},
		Statistics: hoststate.JobStatistics{
			Jobs: 20, Queued: 5, Active: 2, Cancelled: 1, Failed: 3,
			AverageProcessingTime: 1500, AverageWaitingTime: 90_000,
		},
	}
	res := runJobs(t, jm, nil)
	if !res.OK() {
		t.Fatalf("status = %s; %+v", res.Status, res.Entries)
	}
	for _, want := range []string{
		"The queue Granite Workflow Queue is currently active",
		"The queue Sling Default Queue is currently suspended",
		"Found 20 total jobs.",
		"Found 5 queued jobs.",
		"Found 2 active jobs.",
		"Found 1 cancelled jobs.",
		"Found 3 failed jobs.",
	} {
		if !hasEntry(res, hc.LevelInfo, want) {
			t.Errorf("missing INFO %q", want)
		}
	}
	if !hasEntry(res, hc.LevelDebug, "The average processing time is 1500ms") {
		t.Errorf("missing processing time: %+v", res.Entries)
	}
	if !hasEntry(res, hc.LevelDebug, "The average waiting time is 90000ms (About a minute)") {
		t.Errorf("missing waiting time: %+v", res.Entries)
	}
}

func TestJobsCheck_QueuedOverThreshold(t *testing.T) {
	jm := &hoststate.JobManager{Statistics: hoststate.JobStatistics{Jobs: 1200, Queued: 1200}}

	res := runJobs(t, jm, nil)
	if res.Status != hc.StatusWarn {
		t.Fatalf("status = %s, want WARN", res.Status)
	}
	warns := messages(res, hc.LevelWarn)
	if len(warns) != 1 || warns[0] != "Found more than 1000 jobs queued: 1200" {
		t.Fatalf("warnings = %q", warns)
	}
	if !strings.Contains(warns[0], "1200") {
		t.Fatal("warning must carry the queued count")
	}

	res = runJobs(t, jm, func(c *JobsConfig) { c.OverThreshold = PolicyCritical })
	if res.Status != hc.StatusCritical {
		t.Fatalf("critical policy status = %s", res.Status)
	}

	res = runJobs(t, jm, func(c *JobsConfig) { c.OverThreshold = PolicyIgnore })
	if !res.OK() {
		t.Fatalf("ignore policy status = %s", res.Status)
	}
}

func TestJobsCheck_AtThresholdIsOK(t *testing.T) {
	res := runJobs(t, &hoststate.JobManager{Statistics: hoststate.JobStatistics{Queued: 1000}}, nil)
	if !res.OK() {
		t.Fatalf("status = %s", res.Status)
	}
}

func TestJobsCheck_FailedJobsPolicy(t *testing.T) {
	jm := &hoststate.JobManager{Statistics: hoststate.JobStatistics{Failed: 7}}

	if res := runJobs(t, jm, nil); !res.OK() {
		t.Fatalf("failed jobs ignored by default, status = %s", res.Status)
	}

	res := runJobs(t, jm, func(c *JobsConfig) { c.FailedJobs = PolicyWarn; c.MaxFailed = 5 })
	if res.Status != hc.StatusWarn || !hasEntry(res, hc.LevelWarn, "Found more than 5 failed jobs: 7") {
		t.Fatalf("result = %+v", res)
	}
}
