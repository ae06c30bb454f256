package canvas

// Outcome names the result of reconciling a snapshot.
type Outcome string

const (
	// OutcomeWritten means the incoming snapshot replaces the persisted one.
	OutcomeWritten Outcome = "written"
	// OutcomeStale means at least one incoming element is older than its
	// persisted counterpart, so nothing is written.
	OutcomeStale Outcome = "stale"
	// OutcomeUnchanged means the incoming snapshot carries nothing newer.
	OutcomeUnchanged Outcome = "unchanged"
)

// Decision is the result of Reconcile.
type Decision struct {
	Outcome Outcome
	// Elements is the snapshot to persist. It is only set when Write is true.
	Elements Elements
	// StaleID names the first element that vetoed the write.
	StaleID string
}

// Write reports whether the snapshot should be persisted.
func (d Decision) Write() bool {
	return d.Outcome == OutcomeWritten
}

// Reconcile decides whether incoming supersedes persisted.
//
// Tombstoned elements are never persisted. A single incoming element with a
// version lower than its persisted counterpart rejects the whole snapshot.
// The snapshot is written only when some element is new or has a higher
// version. For a room that was just created every remaining element counts
// as new.
func Reconcile(persisted Elements, created bool, incoming Elements) Decision {
	live := incoming.WithoutDeleted()

	if created {
		if len(live) == 0 {
			return Decision{Outcome: OutcomeUnchanged}
		}
		return Decision{Outcome: OutcomeWritten, Elements: live}
	}

	previous := persisted.Versions()
	changed := false
	for _, element := range live {
		version, known := previous[element.ID]
		if !known {
			changed = true
			continue
		}
		if element.Version < version {
			return Decision{Outcome: OutcomeStale, StaleID: element.ID}
		}
		if element.Version > version {
			changed = true
		}
	}
	if !changed {
		return Decision{Outcome: OutcomeUnchanged}
	}
	return Decision{Outcome: OutcomeWritten, Elements: live}
}
