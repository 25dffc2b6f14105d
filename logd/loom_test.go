package logd

import (
	"encoding/json"
	"fmt"
	mathrand "math/rand"
	"testing"

	"github.com/go-playground/assert/v2"
)

func randomPosition(r *mathrand.Rand, nodeCount int, logCount int) CausalPosition {
	position := CausalPosition{}
	for i := 0; i < nodeCount; i += 1 {
		if r.Intn(3) == 0 {
			continue
		}
		position[fmt.Sprintf("n%d", i)] = Mark{
			LogId:    fmt.Sprintf("L%d", r.Intn(logCount)),
			Boundary: r.Int63n(16),
		}
	}
	return position
}

func TestMergeJoin(t *testing.T) {
	r := mathrand.New(mathrand.NewSource(11))

	for _, cmp := range []LogIdComparator{CompareBoundary, CompareLogIdThenBoundary} {
		for range 2048 {
			a := randomPosition(r, 6, 2)
			b := randomPosition(r, 6, 2)
			c := randomPosition(r, 6, 2)

			// commutative
			assert.Equal(t, MergeWith(cmp, a, b), MergeWith(cmp, b, a))
			// associative
			assert.Equal(t, MergeWith(cmp, MergeWith(cmp, a, b), c), MergeWith(cmp, a, MergeWith(cmp, b, c)))
			// idempotent
			assert.Equal(t, MergeWith(cmp, a, a), a)
		}
	}
}

func TestMergeMonotonic(t *testing.T) {
	r := mathrand.New(mathrand.NewSource(12))

	for range 2048 {
		a := randomPosition(r, 8, 1)
		b := randomPosition(r, 8, 1)
		merged := Merge(a, b)
		for nodeId, mark := range a {
			assert.Equal(t, mark.Boundary <= merged[nodeId].Boundary, true)
		}
		for nodeId, mark := range b {
			assert.Equal(t, mark.Boundary <= merged[nodeId].Boundary, true)
		}
		assert.Equal(t, len(merged) <= len(a)+len(b), true)
	}
}

func TestMergeDoesNotModifyInputs(t *testing.T) {
	a := CausalPosition{"n1": {LogId: "L1", Boundary: 3}}
	b := CausalPosition{"n1": {LogId: "L1", Boundary: 5}, "n2": {LogId: "L2", Boundary: 1}}

	merged := Merge(a, b)
	assert.Equal(t, merged, CausalPosition{"n1": {LogId: "L1", Boundary: 5}, "n2": {LogId: "L2", Boundary: 1}})
	assert.Equal(t, a, CausalPosition{"n1": {LogId: "L1", Boundary: 3}})
	assert.Equal(t, len(b), 2)

	assert.Equal(t, Merge(nil, nil), CausalPosition{})
	assert.Equal(t, Merge(nil, a), a)
}

func TestMergeLogRotation(t *testing.T) {
	current := CausalPosition{"n1": {LogId: "L1", Boundary: 100}}
	rotated := CausalPosition{"n1": {LogId: "L2", Boundary: 4}}

	// boundary order keeps the old log until the new one passes it
	assert.Equal(t, MergeWith(CompareBoundary, current, rotated), current)
	// log id order adopts the new log immediately
	assert.Equal(t, MergeWith(CompareLogIdThenBoundary, current, rotated), rotated)
}

func TestLocusPositions(t *testing.T) {
	locus := Locus{NodeId: "n1", LogId: "L1", Lower: 0, Upper: 5}
	assert.Equal(t, PositionBefore(locus), CausalPosition{"n1": {LogId: "L1", Boundary: 0}})
	assert.Equal(t, PositionAfter(locus), CausalPosition{"n1": {LogId: "L1", Boundary: 5}})
}

func TestLocusJsonCodec(t *testing.T) {
	var locus Locus
	err := json.Unmarshal([]byte(`[["n1","L1"],[0,5]]`), &locus)
	assert.Equal(t, err, nil)
	assert.Equal(t, locus, Locus{NodeId: "n1", LogId: "L1", Lower: 0, Upper: 5})

	locusJson, err := json.Marshal(locus)
	assert.Equal(t, err, nil)
	assert.Equal(t, string(locusJson), `[["n1","L1"],[0,5]]`)

	err = json.Unmarshal([]byte(`[["n1"],[0,5]]`), &locus)
	assert.NotEqual(t, err, nil)
	err = json.Unmarshal([]byte(`{"n1":1}`), &locus)
	assert.NotEqual(t, err, nil)
}

func TestCausalPositionJsonCodec(t *testing.T) {
	var position CausalPosition
	err := json.Unmarshal([]byte(`{"n1":["L1",5],"n2":["L2",7.0]}`), &position)
	assert.Equal(t, err, nil)
	assert.Equal(t, position, CausalPosition{
		"n1": {LogId: "L1", Boundary: 5},
		"n2": {LogId: "L2", Boundary: 7},
	})

	positionJson, err := json.Marshal(CausalPosition{"n1": {LogId: "L1", Boundary: 5}})
	assert.Equal(t, err, nil)
	assert.Equal(t, string(positionJson), `{"n1":["L1",5]}`)

	err = json.Unmarshal([]byte(`{"n1":["L1"]}`), &position)
	assert.NotEqual(t, err, nil)
}
