package protocol

import (
	"bytes"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
)

// StateSet maps stream names to their saved stream_state
type StateSet map[string]json.RawMessage

// ReadConfiguredCatalog loads a configured catalog file
func ReadConfiguredCatalog(path string) (*ConfiguredCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	var catalog ConfiguredCatalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}
	return &catalog, nil
}

// ReadState loads a state file. An empty path yields an empty set.
func ReadState(path string) (StateSet, error) {
	if path == "" {
		return StateSet{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	return ParseState(data)
}

// ParseState accepts the per-stream array format, a single state message or
// a legacy object keyed by stream name.
func ParseState(data []byte) (StateSet, error) {
	data = bytes.TrimSpace(data)
	set := StateSet{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return set, nil
	}

	if data[0] == '[' {
		var msgs []StateMessage
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, fmt.Errorf("failed to parse state: %w", err)
		}
		for i := range msgs {
			if err := set.merge(&msgs[i]); err != nil {
				return nil, err
			}
		}
		return set, nil
	}

	var probe struct {
		Type   StateType       `json:"type"`
		Stream *StreamState    `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}
	if probe.Type != "" || probe.Stream != nil {
		msg := StateMessage{Type: probe.Type, Stream: probe.Stream, Data: probe.Data}
		if err := set.merge(&msg); err != nil {
			return nil, err
		}
		return set, nil
	}

	return set, set.mergeLegacy(data)
}

func (s StateSet) merge(msg *StateMessage) error {
	switch {
	case msg.Stream != nil:
		if msg.Stream.StreamDescriptor.Name == "" {
			return fmt.Errorf("state message is missing stream_descriptor.name")
		}
		if len(msg.Stream.StreamState) > 0 {
			s[msg.Stream.StreamDescriptor.Name] = msg.Stream.StreamState
		}
		return nil
	case len(msg.Data) > 0:
		return s.mergeLegacy(msg.Data)
	case msg.Type == StateTypeGlobal:
		return fmt.Errorf("global state is not supported by this source")
	default:
		return nil
	}
}

func (s StateSet) mergeLegacy(data []byte) error {
	var legacy map[string]json.RawMessage
	if err := json.Unmarshal(data, &legacy); err != nil {
		return fmt.Errorf("failed to parse legacy state: %w", err)
	}
	for name, raw := range legacy {
		s[name] = raw
	}
	return nil
}
