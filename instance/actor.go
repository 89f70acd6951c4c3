package instance

import "github.com/ashiqtasdid/pegasus-interface-sub000/eventlog"

// Actor identifies who is asking for an action. Ownership is checked before
// any status precondition; administrators may act on any instance.
type Actor struct {
	ID    string
	Admin bool
}

// System is the actor used by the orchestrator's own control loops.
var System = Actor{ID: eventlog.IssuerSystem, Admin: true}

func (a Actor) mayAct(ownerID string) bool {
	return a.Admin || a.ID == ownerID
}
