package checks

import (
	"context"
	"strings"

	"github.com/keithlinneman/aem-healthcheck/internal/hc"
	"github.com/keithlinneman/aem-healthcheck/internal/hoststate"
	"github.com/keithlinneman/aem-healthcheck/internal/xerrors"
)

// BundleCheck warns about bundles that are not considered active.
type BundleCheck struct {
	src     BundleSource
	ignored map[string]struct{}
	// ignoredList keeps configuration order for the DEBUG line.
	ignoredList []string
}

func NewBundleCheck(src BundleSource, ignored []string) *BundleCheck {
	c := &BundleCheck{src: src, ignored: make(map[string]struct{}, len(ignored))}
	for _, name := range ignored {
		if name = strings.TrimSpace(name); name != "" {
			c.ignored[name] = struct{}{}
			c.ignoredList = append(c.ignoredList, name)
		}
	}
	return c
}

func (c *BundleCheck) Execute(ctx context.Context) hc.Result {
	bundles, err := c.src.Bundles(ctx)
	if err != nil {
		return hc.Errored(xerrors.Wrap(err, "list bundles"))
	}

	var l hc.ResultLog
	inactive := 0
	for _, b := range bundles {
		if b.ConsideredActive() || c.isIgnored(b) {
			continue
		}
		inactive++
		l.Warnf("Bundle %s is not active. It is in state %d (%s).", b.SymbolicName, b.State, b.State)
	}

	if len(c.ignoredList) > 0 {
		l.Debugf("The following bundles will be ignored: [%s]", strings.Join(c.ignoredList, ", "))
	}

	if inactive > 0 {
		l.Warnf("There are %d inactive Bundles", inactive)
	} else {
		l.Infof("All bundles are considered active")
	}
	return l.Result()
}

func (c *BundleCheck) isIgnored(b hoststate.Bundle) bool {
	_, ok := c.ignored[b.SymbolicName]
	return ok
}
