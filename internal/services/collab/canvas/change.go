package canvas

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	changeUsernameKey   = "username"
	changeTimeKey       = "time"
	changeUserRoomIDKey = "userRoomId"
)

// Change is one collaborator change record: a pointer move, a selection, or
// some other ephemeral state. Fields the server does not interpret are kept
// as raw JSON in the order the client sent them.
type Change struct {
	fields []changeField
}

type changeField struct {
	key   string
	value json.RawMessage
}

// ParseChanges decodes a JSON array of change objects.
func ParseChanges(data []byte) ([]Change, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var changes []Change
	if err := json.Unmarshal(data, &changes); err != nil {
		return nil, fmt.Errorf("parse changes: %w", err)
	}
	return changes, nil
}

// UnmarshalJSON decodes a JSON object, keeping its key order. A repeated key
// keeps its first position and its last value.
func (c *Change) UnmarshalJSON(data []byte) error {
	c.fields = nil
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("change must be a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected change key %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return err
		}
		c.set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// MarshalJSON encodes the change with its fields in order.
func (c Change) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range c.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(field.value) == 0 {
			buf.WriteString("null")
			continue
		}
		buf.Write(field.value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Get returns the raw value stored under key.
func (c Change) Get(key string) (json.RawMessage, bool) {
	for _, field := range c.fields {
		if field.key == key {
			return field.value, true
		}
	}
	return nil, false
}

// Len reports the number of fields.
func (c Change) Len() int {
	return len(c.fields)
}

// Clone returns a copy that shares no field storage with c.
func (c Change) Clone() Change {
	fields := make([]changeField, len(c.fields))
	copy(fields, c.fields)
	return Change{fields: fields}
}

// StripUsername removes the client-supplied display name.
func (c *Change) StripUsername() {
	c.remove(changeUsernameKey)
}

// PopTime removes the client timestamp and returns it. A missing or
// unparseable timestamp yields fallback. RFC 3339 strings and epoch
// millisecond numbers are accepted.
func (c *Change) PopTime(fallback time.Time) time.Time {
	raw, ok := c.Get(changeTimeKey)
	c.remove(changeTimeKey)
	if !ok {
		return fallback
	}
	if parsed, ok := parseChangeTime(raw); ok {
		return parsed
	}
	return fallback
}

// SetUserRoomID attaches the sender pseudonym.
func (c *Change) SetUserRoomID(userRoomID string) {
	c.setString(changeUserRoomIDKey, userRoomID)
}

// SetUsername attaches a display name.
func (c *Change) SetUsername(name string) {
	c.setString(changeUsernameKey, name)
}

func (c *Change) setString(key, value string) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.set(key, encoded)
}

// set replaces the value in place, or appends key when it is new.
func (c *Change) set(key string, value json.RawMessage) {
	for i := range c.fields {
		if c.fields[i].key == key {
			c.fields[i].value = value
			return
		}
	}
	c.fields = append(c.fields, changeField{key: key, value: value})
}

func (c *Change) remove(key string) {
	kept := c.fields[:0:0]
	for _, field := range c.fields {
		if field.key != key {
			kept = append(kept, field)
		}
	}
	c.fields = kept
}

func parseChangeTime(raw json.RawMessage) (time.Time, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, false
	}
	if raw[0] == '"' {
		var value string
		if err := json.Unmarshal(raw, &value); err != nil || value == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999Z07:00"} {
			if parsed, err := time.Parse(layout, value); err == nil {
				return parsed.UTC(), true
			}
		}
		return time.Time{}, false
	}
	millis, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || millis <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(millis)).UTC(), true
}
