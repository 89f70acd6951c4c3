package eventlog

import "time"

// Entry levels
const (
	LevelInfo  string = "info"
	LevelWarn         = "warn"
	LevelError        = "error"
)

// Entry sources
const (
	SourceInstance  string = "instance"
	SourceExtension        = "extension"
	SourceSystem           = "system"
)

// IssuerSystem marks entries produced by the orchestrator itself (activity
// monitor, reconciliation) rather than a user.
const IssuerSystem = "system"

// Entry is one append-only lifecycle or command event. Entries are written
// once and never updated or deleted.
type Entry struct {
	ID        uint      `json:"-" gorm:"primaryKey;autoIncrement"`
	ServerID  string    `json:"serverId" gorm:"index"`
	IssuerID  string    `json:"issuerId"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}
