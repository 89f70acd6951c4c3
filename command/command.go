package command

import "time"

// Define the valid status of a command. pending is the only non-terminal
// status; once executed or failed is written, the row is never mutated again.
const (
	StatusPending  string = "pending"
	StatusExecuted        = "executed"
	StatusFailed          = "failed"
)

// Command records one administrative instruction sent to a running instance
// and, eventually, its outcome.
type Command struct {
	ID              string     `json:"id" gorm:"primaryKey"`
	ServerID        string     `json:"serverId" gorm:"index"`
	IssuerID        string     `json:"issuerId"`
	CommandText     string     `json:"commandText"`
	Status          string     `json:"status"`
	Response        string     `json:"response,omitempty"`
	ExecutionTimeMs *int64     `json:"executionTimeMs,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
}

// deniedVerbs are the lifecycle-control verbs that must go through the
// lifecycle controller instead, so that the persisted status stays
// authoritative. The check is on the first word of the command text.
var deniedVerbs = map[string]struct{}{
	"stop":     {},
	"restart":  {},
	"kill":     {},
	"end":      {},
	"shutdown": {},
}
