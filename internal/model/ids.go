// Package model holds the wire types exchanged with the Media Janitor server.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PlanID identifies a deletion plan. The server emits integers; values read
// from URLs and flags arrive as strings, so both decode into the same type.
type PlanID string

// NoPlan is the unset plan id.
const NoPlan PlanID = ""

// IsUnset reports whether id is empty or one of the placeholder strings a
// caller may propagate ("null", "undefined").
func (id PlanID) IsUnset() bool {
	switch strings.TrimSpace(string(id)) {
	case "", "null", "undefined":
		return true
	}
	return false
}

func (id PlanID) String() string {
	return string(id)
}

// UnmarshalJSON accepts numbers, strings and null.
func (id *PlanID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = NoPlan
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = PlanID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("plan id: %w", err)
	}
	*id = PlanID(n.String())
	return nil
}

// MarshalJSON emits numeric ids as numbers, everything else as a string, and
// unset ids as null.
func (id PlanID) MarshalJSON() ([]byte, error) {
	if id.IsUnset() {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// ExternalIDs maps the item to provider catalogues. Any of them may be absent.
type ExternalIDs struct {
	TMDB *int64 `json:"tmdb"`
	TVDB *int64 `json:"tvdb"`
	IMDB string `json:"imdb,omitempty"`
}

// UnmarshalJSON tolerates numeric ids sent as strings.
func (e *ExternalIDs) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out ExternalIDs
	var err error
	if out.TMDB, err = flexInt(raw["tmdb"]); err != nil {
		return fmt.Errorf("tmdb id: %w", err)
	}
	if out.TVDB, err = flexInt(raw["tvdb"]); err != nil {
		return fmt.Errorf("tvdb id: %w", err)
	}
	if v, ok := raw["imdb"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &out.IMDB); err != nil {
			return fmt.Errorf("imdb id: %w", err)
		}
	}

	*e = out
	return nil
}

// IsEmpty reports whether no identifier is known.
func (e ExternalIDs) IsEmpty() bool {
	return e.TMDB == nil && e.TVDB == nil && e.IMDB == ""
}

func flexInt(raw json.RawMessage) (*int64, error) {
	if len(raw) == 0 || isNull(raw) {
		return nil, nil
	}

	var n json.Number
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		n = json.Number(s)
	} else if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}

	v, err := n.Int64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
