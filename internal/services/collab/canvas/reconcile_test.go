package canvas

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustElements(t *testing.T, raw string) Elements {
	t.Helper()
	elements, err := ParseElements([]byte(raw))
	if err != nil {
		t.Fatalf("parse elements %s: %v", raw, err)
	}
	return elements
}

func elementIDs(elements Elements) []string {
	ids := make([]string, 0, len(elements))
	for _, element := range elements {
		ids = append(ids, element.ID)
	}
	return ids
}

func TestReconcileRejectsWholeSnapshotWhenAnyElementIsOlder(t *testing.T) {
	persisted := mustElements(t, `[{"id":"A","version":5}]`)
	incoming := mustElements(t, `[{"id":"A","version":4},{"id":"B","version":10}]`)

	decision := Reconcile(persisted, false, incoming)
	if decision.Write() {
		t.Fatalf("decision = %+v, want no write", decision)
	}
	if decision.Outcome != OutcomeStale {
		t.Fatalf("outcome = %q, want %q", decision.Outcome, OutcomeStale)
	}
	if decision.StaleID != "A" {
		t.Fatalf("stale id = %q, want %q", decision.StaleID, "A")
	}
}

func TestReconcileNoWriteWhenVersionsEqual(t *testing.T) {
	snapshot := `[{"id":"A","version":3},{"id":"B","version":7}]`
	decision := Reconcile(mustElements(t, snapshot), false, mustElements(t, snapshot))
	if decision.Outcome != OutcomeUnchanged {
		t.Fatalf("outcome = %q, want %q", decision.Outcome, OutcomeUnchanged)
	}
}

func TestReconcileNoWriteForEmptyIncoming(t *testing.T) {
	decision := Reconcile(mustElements(t, `[{"id":"A","version":3}]`), false, Elements{})
	if decision.Outcome != OutcomeUnchanged {
		t.Fatalf("outcome = %q, want %q", decision.Outcome, OutcomeUnchanged)
	}
}

func TestReconcileWritesWhenAnyElementIsNewer(t *testing.T) {
	persisted := mustElements(t, `[{"id":"A","version":3},{"id":"B","version":7}]`)
	incoming := mustElements(t, `[{"id":"A","version":3},{"id":"B","version":8}]`)

	decision := Reconcile(persisted, false, incoming)
	if !decision.Write() {
		t.Fatalf("decision = %+v, want write", decision)
	}
	if diff := cmp.Diff([]string{"A", "B"}, elementIDs(decision.Elements)); diff != "" {
		t.Fatalf("written ids mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileWritesWhenElementIsNew(t *testing.T) {
	persisted := mustElements(t, `[{"id":"A","version":3}]`)
	incoming := mustElements(t, `[{"id":"A","version":3},{"id":"C","version":1}]`)

	if decision := Reconcile(persisted, false, incoming); !decision.Write() {
		t.Fatalf("decision = %+v, want write", decision)
	}
}

func TestReconcileDropsTombstones(t *testing.T) {
	persisted := mustElements(t, `[{"id":"A","version":1}]`)
	incoming := mustElements(t, `[{"id":"A","version":2},{"id":"C","version":1,"isDeleted":true}]`)

	decision := Reconcile(persisted, false, incoming)
	if diff := cmp.Diff([]string{"A"}, elementIDs(decision.Elements)); diff != "" {
		t.Fatalf("written ids mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileTombstoneDoesNotVetoOrTrigger(t *testing.T) {
	persisted := mustElements(t, `[{"id":"A","version":5}]`)

	stale := mustElements(t, `[{"id":"A","version":1,"isDeleted":true}]`)
	if decision := Reconcile(persisted, false, stale); decision.Outcome != OutcomeUnchanged {
		t.Fatalf("outcome = %q, want %q", decision.Outcome, OutcomeUnchanged)
	}

	newer := mustElements(t, `[{"id":"A","version":9,"isDeleted":true}]`)
	if decision := Reconcile(persisted, false, newer); decision.Outcome != OutcomeUnchanged {
		t.Fatalf("outcome = %q, want %q", decision.Outcome, OutcomeUnchanged)
	}
}

func TestReconcileFreshRoom(t *testing.T) {
	t.Run("writes live elements", func(t *testing.T) {
		incoming := mustElements(t, `[{"id":"A","version":0},{"id":"C","version":1,"isDeleted":true}]`)
		decision := Reconcile(nil, true, incoming)
		if !decision.Write() {
			t.Fatalf("decision = %+v, want write", decision)
		}
		if diff := cmp.Diff([]string{"A"}, elementIDs(decision.Elements)); diff != "" {
			t.Fatalf("written ids mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("skips when only tombstones", func(t *testing.T) {
		incoming := mustElements(t, `[{"id":"C","version":1,"isDeleted":true}]`)
		if decision := Reconcile(nil, true, incoming); decision.Write() {
			t.Fatalf("decision = %+v, want no write", decision)
		}
	})
}

func TestReconcileVersionMonotonicity(t *testing.T) {
	var persisted Elements
	created := true
	submissions := []string{
		`[{"id":"A","version":1}]`,
		`[{"id":"A","version":3},{"id":"B","version":1}]`,
		`[{"id":"A","version":2},{"id":"B","version":5}]`,
		`[{"id":"A","version":3},{"id":"B","version":5}]`,
		`[{"id":"A","version":4},{"id":"B","version":6}]`,
	}

	highest := map[string]int64{}
	for _, raw := range submissions {
		decision := Reconcile(persisted, created, mustElements(t, raw))
		created = false
		if decision.Write() {
			persisted = decision.Elements
		}
		for id, version := range persisted.Versions() {
			if version < highest[id] {
				t.Fatalf("version of %s went from %d to %d", id, highest[id], version)
			}
			highest[id] = version
		}
	}

	want := map[string]int64{"A": 4, "B": 6}
	if diff := cmp.Diff(want, persisted.Versions()); diff != "" {
		t.Fatalf("final versions mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileKeepsClientBytes(t *testing.T) {
	raw := `[{"id":"A","version":2,"type":"rectangle","x":10.5,"strokeColor":"#000"}]`
	decision := Reconcile(nil, true, mustElements(t, raw))

	encoded, err := json.Marshal(decision.Elements)
	if err != nil {
		t.Fatalf("marshal elements: %v", err)
	}
	if string(encoded) != raw {
		t.Fatalf("encoded = %s, want %s", encoded, raw)
	}
}
