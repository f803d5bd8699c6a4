package checks

import (
	"context"
	"time"

	"github.com/keithlinneman/aem-healthcheck/internal/hc"
)

// SmokeCheck always passes. It answers "is the health service itself up".
type SmokeCheck struct {
	now func() time.Time
}

func NewSmokeCheck(now func() time.Time) *SmokeCheck {
	if now == nil {
		now = time.Now
	}
	return &SmokeCheck{now: now}
}

func (c *SmokeCheck) Execute(context.Context) hc.Result {
	var l hc.ResultLog
	l.Infof("Instance is ready at %s", c.now().Format(time.RFC3339))
	return l.Result()
}
