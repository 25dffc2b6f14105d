package logd

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
)

// the causal position ("since") is how far into each node's log the client has consumed
// node id -> [log id, boundary]
// merges are a join over per node marks, so batches may arrive out of order
// or repeat after a reconnect without moving a boundary backwards

// comparable
type Mark struct {
	LogId    string
	Boundary int64
}

func (self Mark) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{self.LogId, self.Boundary})
}

func (self *Mark) UnmarshalJSON(src []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(src, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("mark must be [logId, boundary] (%d parts)", len(parts))
	}
	var logId string
	if err := json.Unmarshal(parts[0], &logId); err != nil {
		return fmt.Errorf("mark log id: %w", err)
	}
	boundary, err := unmarshalBoundary(parts[1])
	if err != nil {
		return err
	}
	*self = Mark{
		LogId:    logId,
		Boundary: boundary,
	}
	return nil
}

func (self Mark) String() string {
	return fmt.Sprintf("%s@%d", self.LogId, self.Boundary)
}

type CausalPosition map[string]Mark

func (self CausalPosition) Clone() CausalPosition {
	if self == nil {
		return CausalPosition{}
	}
	return maps.Clone(self)
}

// orders two marks of the same node. Must be a total order for merge to be a join.
type LogIdComparator func(a Mark, b Mark) int

// boundary first, log id breaks ties.
// A node whose log rotates keeps the same series and adopts the new log id
// once the new log's boundary passes the old one.
func CompareBoundary(a Mark, b Mark) int {
	if a.Boundary < b.Boundary {
		return -1
	} else if b.Boundary < a.Boundary {
		return 1
	}
	return strings.Compare(a.LogId, b.LogId)
}

// log id first, so a rotated log (larger id) always wins and its boundary starts over.
func CompareLogIdThenBoundary(a Mark, b Mark) int {
	if c := strings.Compare(a.LogId, b.LogId); c != 0 {
		return c
	}
	if a.Boundary < b.Boundary {
		return -1
	} else if b.Boundary < a.Boundary {
		return 1
	}
	return 0
}

func Merge(current CausalPosition, incoming CausalPosition) CausalPosition {
	return MergeWith(CompareBoundary, current, incoming)
}

// inputs are not modified
func MergeWith(cmp LogIdComparator, current CausalPosition, incoming CausalPosition) CausalPosition {
	merged := current.Clone()
	for nodeId, mark := range incoming {
		if existing, ok := merged[nodeId]; !ok || cmp(existing, mark) < 0 {
			merged[nodeId] = mark
		}
	}
	return merged
}

// the half-open range [Lower, Upper) an event occupies in a node's log
// wire shape is [[nodeId, logId], [lower, upper]]
type Locus struct {
	NodeId string
	LogId  string
	Lower  int64
	Upper  int64
}

func (self Locus) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{
		[]any{self.NodeId, self.LogId},
		[]any{self.Lower, self.Upper},
	})
}

func (self *Locus) UnmarshalJSON(src []byte) error {
	var parts [][]json.RawMessage
	if err := json.Unmarshal(src, &parts); err != nil {
		return fmt.Errorf("locus: %w", err)
	}
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return fmt.Errorf("locus must be [[nodeId, logId], [lower, upper]]")
	}
	var locus Locus
	if err := json.Unmarshal(parts[0][0], &locus.NodeId); err != nil {
		return fmt.Errorf("locus node id: %w", err)
	}
	if err := json.Unmarshal(parts[0][1], &locus.LogId); err != nil {
		return fmt.Errorf("locus log id: %w", err)
	}
	var err error
	if locus.Lower, err = unmarshalBoundary(parts[1][0]); err != nil {
		return err
	}
	if locus.Upper, err = unmarshalBoundary(parts[1][1]); err != nil {
		return err
	}
	*self = locus
	return nil
}

// the position just before the event
func PositionBefore(locus Locus) CausalPosition {
	return CausalPosition{
		locus.NodeId: {LogId: locus.LogId, Boundary: locus.Lower},
	}
}

// the position just after the event
func PositionAfter(locus Locus) CausalPosition {
	return CausalPosition{
		locus.NodeId: {LogId: locus.LogId, Boundary: locus.Upper},
	}
}

func unmarshalBoundary(src json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(src, &n); err != nil {
		return 0, fmt.Errorf("boundary: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("boundary: %w", err)
	}
	return int64(f), nil
}
