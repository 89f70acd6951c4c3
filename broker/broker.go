package broker

import "time"

// Event is the JSON payload published for every appended log entry so that
// external consumers (web layer, dashboards) can follow instance activity
// without polling the database.
type Event struct {
	ServerID  string    `json:"serverId"`
	IssuerID  string    `json:"issuerId"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Producer defines the interface for publishing instance events via message
// broker. Publishing is best-effort: the persisted event log remains the
// source of truth.
type Producer interface {
	Close()
	PublishEvent(e Event) error
}
