package canvas

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Element is one drawable object on a canvas.
//
// Only the identity, version, and tombstone fields are interpreted by the
// server. The remaining fields are carried as the client sent them, so
// marshalling an element reproduces its original bytes.
type Element struct {
	ID        string
	Version   int64
	IsDeleted bool

	raw json.RawMessage
}

type elementHeader struct {
	ID        string `json:"id"`
	Version   int64  `json:"version"`
	IsDeleted bool   `json:"isDeleted"`
}

var errElementIDRequired = errors.New("element id is required")

// UnmarshalJSON decodes the interpreted fields and keeps the raw object.
func (e *Element) UnmarshalJSON(data []byte) error {
	var header elementHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return fmt.Errorf("decode element: %w", err)
	}
	if strings.TrimSpace(header.ID) == "" {
		return errElementIDRequired
	}
	e.ID = header.ID
	e.Version = header.Version
	e.IsDeleted = header.IsDeleted
	e.raw = append(json.RawMessage(nil), bytes.TrimSpace(data)...)
	return nil
}

// MarshalJSON returns the client's bytes when known, otherwise the
// interpreted fields.
func (e Element) MarshalJSON() ([]byte, error) {
	if len(e.raw) > 0 {
		return e.raw, nil
	}
	return json.Marshal(elementHeader{ID: e.ID, Version: e.Version, IsDeleted: e.IsDeleted})
}

// Elements is an element collection as exchanged with clients.
type Elements []Element

// ParseElements decodes a JSON array of elements. A null or empty input is
// an empty collection.
func ParseElements(data []byte) (Elements, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Elements{}, nil
	}
	var elements Elements
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, fmt.Errorf("parse elements: %w", err)
	}
	if elements == nil {
		elements = Elements{}
	}
	return elements, nil
}

// MarshalJSON encodes a nil collection as an empty array.
func (e Elements) MarshalJSON() ([]byte, error) {
	if e == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Element(e))
}

// WithoutDeleted returns the elements that are not tombstoned.
func (e Elements) WithoutDeleted() Elements {
	live := make(Elements, 0, len(e))
	for _, element := range e {
		if element.IsDeleted {
			continue
		}
		live = append(live, element)
	}
	return live
}

// Versions maps each element id to its version. When an id repeats the
// highest version wins.
func (e Elements) Versions() map[string]int64 {
	versions := make(map[string]int64, len(e))
	for _, element := range e {
		if current, ok := versions[element.ID]; ok && current >= element.Version {
			continue
		}
		versions[element.ID] = element.Version
	}
	return versions
}
