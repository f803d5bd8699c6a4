package opshttp

import (
	"net/http"

	"github.com/keithlinneman/aem-healthcheck/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool

	// Live and Ready back /-/healthy and /-/ready. A nil signal always passes.
	Live  health.Signal
	Ready health.Signal

	UseRecoverMW bool
	OnPanic      func() // runs after a recovered panic is logged
}
