package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
)

// Input describes one use-case invocation. Action is optional when the use
// case exposes a single action. Data is absent when the caller only probes
// availability. Input is immutable once constructed.
type Input struct {
	action string
	data   map[string]any
}

// NewInput creates an Input. The data map is copied; a nil map marks an
// availability probe.
func NewInput(action string, data map[string]any) Input {
	var cp map[string]any
	if data != nil {
		cp = maps.Clone(data)
	}
	return Input{action: action, data: cp}
}

// Probe creates an Input without data, used to ask whether an action is
// available before collecting a payload.
func Probe(action string) Input {
	return Input{action: action}
}

// Action returns the selected action, or "" when none was selected.
func (in Input) Action() string {
	return in.action
}

// HasData reports whether the input carries a payload.
func (in Input) HasData() bool {
	return in.data != nil
}

// Data returns a copy of the payload, or nil for a probe.
func (in Input) Data() map[string]any {
	if in.data == nil {
		return nil
	}
	return maps.Clone(in.data)
}

// Field returns the payload value for name. Reading any field of a probe
// yields no value.
func (in Input) Field(name string) (any, bool) {
	if in.data == nil {
		return nil, false
	}
	v, ok := in.data[name]
	return v, ok
}

// String returns the payload value for name formatted as a string, or ""
// when absent.
func (in Input) String(name string) string {
	v, ok := in.Field(name)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Equal reports whether two inputs carry the same action and payload.
func (in Input) Equal(other Input) bool {
	if in.action != other.action || (in.data == nil) != (other.data == nil) {
		return false
	}
	return reflect.DeepEqual(in.data, other.data)
}

type inputJSON struct {
	Action string         `json:"action,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (in Input) MarshalJSON() ([]byte, error) {
	return json.Marshal(inputJSON{Action: in.action, Data: in.data})
}

// UnmarshalJSON implements json.Unmarshaler. A missing or null "data" key
// produces a probe.
func (in *Input) UnmarshalJSON(b []byte) error {
	var raw inputJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*in = Input{action: raw.Action, data: raw.Data}
	return nil
}
