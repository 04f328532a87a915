// Package v1alpha1 contains the persisted entity types for hearth.
//
// Every entity shares ObjectMeta: an opaque prefixed id, the owning account,
// a free-form tag map and creation/modification timestamps. The id is
// write-once; SetID refuses to overwrite an id that is already assigned.
package v1alpha1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrIDAlreadySet is returned by SetID when the object already has an id.
var ErrIDAlreadySet = errors.New("id already set")

// ObjectMeta is metadata that all persisted resources carry.
type ObjectMeta struct {
	// ID is the opaque generated identifier (e.g. vm-1a2b3c4d). Immutable once set.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// AccountID is the owning account.
	AccountID string `json:"accountId,omitempty" yaml:"accountId,omitempty"`

	// Tags are user-supplied key/value pairs.
	// +optional
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`

	CreatedAt Time `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	UpdatedAt Time `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// SetID assigns the object id. Assigning a second time is an error, even
// with the same value.
func (m *ObjectMeta) SetID(id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if m.ID != "" {
		return fmt.Errorf("cannot assign %q: %w (%s)", id, ErrIDAlreadySet, m.ID)
	}
	m.ID = id
	return nil
}

// Touch sets UpdatedAt, and CreatedAt when it is still zero.
func (m *ObjectMeta) Touch(now time.Time) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = Time{Time: now}
	}
	m.UpdatedAt = Time{Time: now}
}

// Time is a wrapper around time.Time for RFC3339 JSON/YAML serialization.
type Time struct {
	time.Time `json:"-" yaml:"-"`
}

// Now returns the current time truncated to seconds in UTC.
func Now() Time {
	return Time{Time: time.Now().UTC().Truncate(time.Second)}
}

// MarshalJSON returns an RFC3339 timestamp or null for zero values.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}

// UnmarshalJSON parses an RFC3339 timestamp or null.
func (t *Time) UnmarshalJSON(b []byte) error {
	if string(b) == "null" || string(b) == `""` {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// MarshalYAML implements the yaml.Marshaler interface.
func (t Time) MarshalYAML() (interface{}, error) {
	if t.IsZero() {
		return nil, nil
	}
	return t.Time.Format(time.RFC3339), nil
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (t *Time) UnmarshalYAML(value *yaml.Node) error {
	if value.Value == "" || value.Tag == "!!null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, value.Value)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}
