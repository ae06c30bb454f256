package canvas

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseChangesAndStrip(t *testing.T) {
	changes, err := ParseChanges([]byte(`[{"pointer":{"x":1,"y":2},"username":"Ada","time":"2024-03-01T10:00:00Z"}]`))
	if err != nil {
		t.Fatalf("parse changes: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(changes))
	}

	change := changes[0]
	change.StripUsername()
	fallback := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	got := change.PopTime(fallback)
	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("time = %v, want %v", got, want)
	}

	encoded, err := json.Marshal(change)
	if err != nil {
		t.Fatalf("marshal change: %v", err)
	}
	if string(encoded) != `{"pointer":{"x":1,"y":2}}` {
		t.Fatalf("encoded = %s", encoded)
	}
}

func TestChangePopTime(t *testing.T) {
	fallback := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{name: "missing", raw: `{}`, want: fallback},
		{name: "null", raw: `{"time":null}`, want: fallback},
		{name: "garbage", raw: `{"time":"yesterday"}`, want: fallback},
		{name: "epoch millis", raw: `{"time":1709287200000}`, want: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{name: "offset", raw: `{"time":"2024-03-01T11:00:00+01:00"}`, want: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var change Change
			if err := json.Unmarshal([]byte(tc.raw), &change); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got := change.PopTime(fallback); !got.Equal(tc.want) {
				t.Fatalf("time = %v, want %v", got, tc.want)
			}
			if _, ok := change.Get("time"); ok {
				t.Fatal("time field was not removed")
			}
		})
	}
}

func TestChangeCloneIsIndependent(t *testing.T) {
	var original Change
	if err := json.Unmarshal([]byte(`{"pointer":{"x":1}}`), &original); err != nil {
		t.Fatalf("decode: %v", err)
	}
	clone := original.Clone()
	clone.SetUserRoomID("abc")
	if _, ok := original.Get("userRoomId"); ok {
		t.Fatal("clone mutation leaked into original")
	}
	if got, _ := clone.Get("userRoomId"); string(got) != `"abc"` {
		t.Fatalf("userRoomId = %s", got)
	}
}

func TestChangeKeepsKeyOrder(t *testing.T) {
	changes, err := ParseChanges([]byte(`[{"selectedElementIds":{"b":true,"a":true},"username":"Ada","pointer":{"y":2,"x":1},"button":"up","time":1709287200000}]`))
	if err != nil {
		t.Fatalf("parse changes: %v", err)
	}
	change := changes[0]
	change.StripUsername()
	change.PopTime(time.Now())
	change.SetUserRoomID("abc")

	encoded, err := json.Marshal(change)
	if err != nil {
		t.Fatalf("marshal change: %v", err)
	}
	want := `{"selectedElementIds":{"b":true,"a":true},"pointer":{"y":2,"x":1},"button":"up","userRoomId":"abc"}`
	if string(encoded) != want {
		t.Fatalf("encoded = %s, want %s", encoded, want)
	}
}

func TestChangeReplacesRepeatedKeyInPlace(t *testing.T) {
	var change Change
	if err := json.Unmarshal([]byte(`{"a":1,"b":2,"a":3}`), &change); err != nil {
		t.Fatalf("decode: %v", err)
	}
	encoded, err := json.Marshal(change)
	if err != nil {
		t.Fatalf("marshal change: %v", err)
	}
	if string(encoded) != `{"a":3,"b":2}` {
		t.Fatalf("encoded = %s", encoded)
	}
}

func TestParseChangesRejectsNonObjects(t *testing.T) {
	if _, err := ParseChanges([]byte(`[1]`)); err == nil {
		t.Fatal("expected error for non-object change")
	}
}
