package canvas

import (
	"encoding/json"
	"testing"
)

func TestParseElementsRejectsMissingID(t *testing.T) {
	if _, err := ParseElements([]byte(`[{"version":1}]`)); err == nil {
		t.Fatal("expected error for element without id")
	}
}

func TestParseElementsRejectsNonArray(t *testing.T) {
	if _, err := ParseElements([]byte(`{"id":"A"}`)); err == nil {
		t.Fatal("expected error for object input")
	}
}

func TestParseElementsNull(t *testing.T) {
	elements, err := ParseElements([]byte(`null`))
	if err != nil {
		t.Fatalf("parse null: %v", err)
	}
	encoded, err := json.Marshal(elements)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(encoded) != "[]" {
		t.Fatalf("encoded = %s, want []", encoded)
	}
}

func TestElementMarshalWithoutRaw(t *testing.T) {
	encoded, err := json.Marshal(Element{ID: "A", Version: 3})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(encoded) != `{"id":"A","version":3,"isDeleted":false}` {
		t.Fatalf("encoded = %s", encoded)
	}
}

func TestElementsVersionsKeepsHighestDuplicate(t *testing.T) {
	elements := Elements{{ID: "A", Version: 4}, {ID: "A", Version: 2}, {ID: "B", Version: 1}}
	versions := elements.Versions()
	if versions["A"] != 4 {
		t.Fatalf("version of A = %d, want 4", versions["A"])
	}
	if versions["B"] != 1 {
		t.Fatalf("version of B = %d, want 1", versions["B"])
	}
}
