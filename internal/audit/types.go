package audit

import "time"

// Severity classifies an audit entry for downstream alerting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Entry is an immutable audit record. Payload is redacted before the entry
// is handed to the store; nothing downstream ever sees the raw values.
type Entry struct {
	ID         string
	ActorID    string
	Action     string
	Category   string
	Severity   Severity
	Payload    map[string]any
	OccurredAt time.Time
}

// Filter narrows a Query. Zero values mean "no constraint".
type Filter struct {
	ActorID string
	Action  string
	From    time.Time
	To      time.Time
	Limit   int
}
