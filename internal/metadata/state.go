package metadata

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ChunkState is the progress state of one fixed-size segment of the target.
type ChunkState uint8

const (
	Pending ChunkState = iota
	InFlight
	Done
)

func (s ChunkState) String() string {
	switch s {
	case Pending:
		return "pending"
	case InFlight:
		return "inflight"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

func parseChunkState(text string) (ChunkState, error) {
	switch text {
	case "pending":
		return Pending, nil
	case "inflight":
		return InFlight, nil
	case "done":
		return Done, nil
	}
	return 0, fmt.Errorf("unknown segment state %q", text)
}

func (s ChunkState) MarshalYAML() (any, error) {
	if s > Done {
		return nil, fmt.Errorf("cannot encode %s", s)
	}
	return s.String(), nil
}

func (s *ChunkState) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	parsed, err := parseChunkState(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
