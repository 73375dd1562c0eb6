package governor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTable(freqs ...uint) FrequencyTable {
	table := make(FrequencyTable, 0, len(freqs))
	for i, f := range freqs {
		table = append(table, FrequencyEntry{Index: i, Frequency: f})
	}
	return table
}

func TestFrequencyTable_Target(t *testing.T) {
	// driver order is descending on the reference SoC
	table := makeTable(2000000, 1000000, InvalidFrequency, 900000, 800000, 200000)

	for _, tc := range []struct {
		name     string
		min      uint
		max      uint
		target   uint
		rel      Relation
		expected uint
	}{
		{name: "H rounds down", min: 200000, max: 2000000, target: 908000, rel: RelationH, expected: 900000},
		{name: "L rounds up", min: 200000, max: 2000000, target: 908000, rel: RelationL, expected: 1000000},
		{name: "exact match H", min: 200000, max: 2000000, target: 800000, rel: RelationH, expected: 800000},
		{name: "exact match L", min: 200000, max: 2000000, target: 800000, rel: RelationL, expected: 800000},
		{name: "H below table falls back up", min: 200000, max: 2000000, target: 100000, rel: RelationH, expected: 200000},
		{name: "L above table falls back down", min: 200000, max: 2000000, target: 3000000, rel: RelationL, expected: 2000000},
		{name: "entries above policy max skipped", min: 200000, max: 1000000, target: 3000000, rel: RelationH, expected: 1000000},
		{name: "entries below policy min skipped", min: 800000, max: 2000000, target: 300000, rel: RelationH, expected: 800000},
	} {
		pos, err := table.Target(tc.min, tc.max, tc.target, tc.rel)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.expected, table[pos].Frequency, tc.name)
	}
}

func TestFrequencyTable_TargetEmpty(t *testing.T) {
	table := makeTable(InvalidFrequency, 3000000)

	_, err := table.Target(200000, 2000000, 900000, RelationH)
	assert.ErrorIs(t, err, errNoFrequency)

	_, err = FrequencyTable{}.Target(0, 1, 0, RelationL)
	assert.ErrorIs(t, err, errNoFrequency)
}

func TestFrequencyTable_Resolve(t *testing.T) {
	table := makeTable(200000, 800000, 900000, 1000000, 2000000)

	for _, tc := range []struct {
		name     string
		target   uint
		cur      uint
		expected uint
	}{
		{name: "up step rounds down to next entry", target: 908000, cur: 800000, expected: 900000},
		{name: "up step smaller than table gap rounds up", target: 908000, cur: 900000, expected: 1000000},
		{name: "up step from off-table frequency rounds up", target: 880000, cur: 850000, expected: 900000},
		{name: "down step rounds down", target: 784000, cur: 1000000, expected: 200000},
		{name: "unchanged target stays", target: 900000, cur: 900000, expected: 900000},
	} {
		freq, err := table.resolve(200000, 2000000, tc.target, tc.cur)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.expected, freq, tc.name)
	}
}
