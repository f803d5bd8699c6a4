package hc

import "fmt"

// Entry is one line of a probe's result log.
type Entry struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// ResultLog collects entries while a probe runs. The zero value is ready to
// use. It is not safe for concurrent use; each execution builds its own.
type ResultLog struct {
	entries []Entry
	status  Status
}

// Add appends an entry and raises the status to the entry's level.
func (l *ResultLog) Add(level Level, msg string) {
	l.entries = append(l.entries, Entry{Level: level, Message: msg})
	if s := level.Status(); s > l.status {
		l.status = s
	}
}

func (l *ResultLog) Debugf(format string, args ...any) {
	l.Add(LevelDebug, fmt.Sprintf(format, args...))
}

func (l *ResultLog) Infof(format string, args ...any) {
	l.Add(LevelInfo, fmt.Sprintf(format, args...))
}

func (l *ResultLog) Warnf(format string, args ...any) {
	l.Add(LevelWarn, fmt.Sprintf(format, args...))
}

func (l *ResultLog) Criticalf(format string, args ...any) {
	l.Add(LevelCritical, fmt.Sprintf(format, args...))
}

// Status is the worst level seen so far.
func (l *ResultLog) Status() Status { return l.status }

// Result freezes the log. Later Adds do not affect the returned Result.
func (l *ResultLog) Result() Result {
	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	return Result{Status: l.status, Entries: entries}
}

// Result is the immutable outcome of one probe execution.
type Result struct {
	Status  Status  `json:"status"`
	Entries []Entry `json:"entries,omitempty"`
}

func (r Result) OK() bool { return r.Status == StatusOK }

// NewResult builds a single-entry result whose entry level matches status.
func NewResult(status Status, msg string) Result {
	var l ResultLog
	switch status {
	case StatusOK:
		l.Add(LevelInfo, msg)
	case StatusWarn:
		l.Add(LevelWarn, msg)
	default:
		l.Add(LevelCritical, msg)
	}
	return l.Result()
}

// Errored converts a failure inside a probe into a CRITICAL result carrying
// the error text.
func Errored(err error) Result {
	if err == nil {
		return NewResult(StatusCritical, "health check failed")
	}
	return NewResult(StatusCritical, err.Error())
}
