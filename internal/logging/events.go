package logging

import "time"

// EventLogger emits rotation events with a fixed event+action schema so that
// log pipelines can alert on them without parsing messages.
type EventLogger struct {
	log func(level Level, msg string, fields ...Field)
}

func NewEventLogger() *EventLogger {
	return &EventLogger{log: log}
}

func statusOf(ok bool) string {
	if ok { return "success" }
	return "failed"
}

// Tick logs the outcome of one rotation tick.
// status: success|failed|skipped
func (e *EventLogger) Tick(runID string, asOf time.Time, created []string, retired string, status, reason string) {
	level := InfoLevel
	switch status {
	case "failed":
		level = ErrorLevel
	case "skipped":
		level = WarnLevel
	}
	if status == "success" && len(created) == 0 && retired == "" {
		level = DebugLevel // nothing to do is the common case after the first tick of a day
	}
	fields := []Field{
		F("event", "tick"),
		F("run_id", runID),
		F("as_of", asOf.Format("2006-01-02")),
		F("status", status),
		F("created", len(created)),
	}
	if len(created) > 0 {
		fields = append(fields, F("created_keys", created))
	}
	if retired != "" {
		fields = append(fields, F("retired_key", retired))
	}
	if reason != "" {
		fields = append(fields, F("reason", reason))
	}
	e.log(level, "tick_event", fields...)
}

// Batch logs one executor round trip.
// kind: create|retire|bootstrap
func (e *EventLogger) Batch(runID, kind string, statements int, ok bool, reason string) {
	level := InfoLevel
	if !ok {
		level = ErrorLevel
	}
	fields := []Field{
		F("event", "batch"),
		F("run_id", runID),
		F("kind", kind),
		F("statements", statements),
		F("status", statusOf(ok)),
	}
	if reason != "" {
		fields = append(fields, F("reason", reason))
	}
	e.log(level, "batch_event", fields...)
}

// Lock logs single-flight lock transitions.
// action: acquire|release|contended
func (e *EventLogger) Lock(action, backend string, ok bool, reason string) {
	level := DebugLevel
	if action == "contended" {
		level = WarnLevel
	} else if !ok {
		level = ErrorLevel
	}
	fields := []Field{
		F("event", "lock"),
		F("action", action),
		F("backend", backend),
		F("status", statusOf(ok)),
	}
	if reason != "" {
		fields = append(fields, F("reason", reason))
	}
	e.log(level, "lock_event", fields...)
}

// Infra logs infrastructure events
// action: connect|disconnect|error
// component: mssql|redis|http
// status: success|failed
func (e *EventLogger) Infra(action, component, status, details string) {
	level := DebugLevel
	if status == "failed" || action == "error" {
		level = ErrorLevel
	}
	fields := []Field{
		F("event", "infra"),
		F("action", action),
		F("component", component),
		F("status", status),
	}
	if details != "" {
		fields = append(fields, F("details", details))
	}
	e.log(level, "infra_event", fields...)
}
