package swap

import (
	"encoding/json"
	"fmt"
)

const documentSchema = 1

type document struct {
	Schema int  `json:"schema"`
	Swap   Swap `json:"swap"`
}

// Marshal encodes the aggregate into the stored document form.
func Marshal(s Swap) ([]byte, error) {
	b, err := json.Marshal(document{Schema: documentSchema, Swap: s})
	if err != nil {
		return nil, fmt.Errorf("swap: marshal %s: %w", s.ID, err)
	}
	return b, nil
}

// Unmarshal decodes a stored document. Unmarshal(Marshal(s)) equals s.
func Unmarshal(b []byte) (Swap, error) {
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return Swap{}, fmt.Errorf("swap: unmarshal: %w", err)
	}
	if doc.Schema != documentSchema {
		return Swap{}, fmt.Errorf("swap: unsupported document schema %d", doc.Schema)
	}
	s := doc.Swap
	switch {
	case s.ID == "":
		return Swap{}, fmt.Errorf("swap: document without id")
	case !s.State.Valid():
		return Swap{}, fmt.Errorf("swap: document %s without state", s.ID)
	case s.Version < 1:
		return Swap{}, fmt.Errorf("swap: document %s with version %d", s.ID, s.Version)
	}
	return s, nil
}
