package plan

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, input string) *Plan {
	t.Helper()
	p, err := NewParser(nil).Parse(strings.NewReader(input))
	require.NoError(t, err)
	return p
}

func unitNames(p *Plan) []string {
	var names []string
	for _, u := range p.Units() {
		names = append(names, u.Name)
	}
	return names
}

func TestSolveShard(t *testing.T) {
	t.Parallel()

	input := "--suite A\n--suite B\n--suite C\n--suite D\n--suite E\n"

	tests := map[string]struct {
		shard, count int
		want         []string
	}{
		"first of two takes the larger half": {shard: 1, count: 2, want: []string{"A", "B", "C"}},
		"second of two":                      {shard: 2, count: 2, want: []string{"D", "E"}},
		"middle of three":                    {shard: 2, count: 3, want: []string{"C", "D"}},
		"single shard keeps everything":      {shard: 1, count: 1, want: []string{"A", "B", "C", "D", "E"}},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			sharded, err := SolveShard(mustParse(t, input), tt.shard, tt.count)
			require.NoError(t, err)
			assert.Equal(t, tt.want, unitNames(sharded))
		})
	}
}

func TestSolveShard_AllUnitsCoveredExactlyOnce(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	for i := 0; i < 11; i++ {
		fmt.Fprintf(&sb, "--suite S%02d\n", i)
	}
	full := mustParse(t, sb.String())

	seen := make(map[string]int)
	for shard := 1; shard <= 4; shard++ {
		part, err := SolveShard(mustParse(t, sb.String()), shard, 4)
		require.NoError(t, err)
		for _, name := range unitNames(part) {
			seen[name]++
		}
	}
	require.Len(t, seen, len(full.Units()))
	for name, count := range seen {
		assert.Equal(t, 1, count, "unit %s", name)
	}
}

func TestSolveShard_Errors(t *testing.T) {
	t.Parallel()

	_, err := SolveShard(mustParse(t, "--suite A\n"), 3, 2)
	assert.Error(t, err)

	// A dependency crossing the shard boundary cannot be honored.
	_, err = SolveShard(mustParse(t, "--suite A\n--suite B #DEPENDS A\n"), 2, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside shard")
}

func TestSolveShard_DropsStrandedBarriers(t *testing.T) {
	t.Parallel()

	sharded, err := SolveShard(mustParse(t, "--suite A\n#WAIT\n--suite B\n"), 2, 2)
	require.NoError(t, err)
	require.Len(t, sharded.Items, 1)
	assert.Equal(t, ItemUnit, sharded.Items[0].Type)
}

func TestChunk(t *testing.T) {
	t.Parallel()

	chunked, err := Chunk(mustParse(t, "--suite A\n--suite B\n--suite C\n"), 2)
	require.NoError(t, err)

	units := chunked.Units()
	require.Len(t, units, 2)
	assert.Equal(t, KindGroup, units[0].Kind)
	require.Len(t, units[0].Members, 2)
	require.Len(t, units[1].Members, 1)
	assert.Equal(t, "Group_A_B", units[0].Name)
	assert.Equal(t, "Group_C", units[1].Name)
}

func TestChunk_MoreProcessesThanUnits(t *testing.T) {
	t.Parallel()

	chunked, err := Chunk(mustParse(t, "--suite A\n"), 4)
	require.NoError(t, err)
	assert.Len(t, chunked.Units(), 1)
}

func TestChunk_Incompatibilities(t *testing.T) {
	t.Parallel()

	_, err := Chunk(mustParse(t, "--suite A\n--suite B #DEPENDS A\n"), 2)
	assert.Error(t, err)

	_, err = Chunk(mustParse(t, "{\n--suite A\n--suite B\n}\n"), 2)
	assert.Error(t, err)
}
