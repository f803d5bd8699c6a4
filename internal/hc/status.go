package hc

import (
	"strings"

	"github.com/keithlinneman/aem-healthcheck/internal/xerrors"
)

// Status is the outcome of a probe. Larger values are worse.
type Status int

const (
	StatusOK Status = iota
	StatusWarn
	StatusCritical
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarn:
		return "WARN"
	default:
		return "CRITICAL"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus accepts the names produced by String, case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OK":
		return StatusOK, nil
	case "WARN":
		return StatusWarn, nil
	case "CRITICAL":
		return StatusCritical, nil
	default:
		return StatusCritical, xerrors.Newf("unknown status %q", s)
	}
}

// Level is the severity of a single result log entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "CRITICAL"
	}
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// Status is the result status an entry of this level raises to.
// DEBUG and INFO never raise the status.
func (l Level) Status() Status {
	switch l {
	case LevelWarn:
		return StatusWarn
	case LevelCritical:
		return StatusCritical
	default:
		return StatusOK
	}
}
