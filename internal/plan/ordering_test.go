package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyOrdering(t *testing.T) {
	t.Parallel()

	base := mustParse(t, "--suite Root.A\n--suite Root.B\n--suite Root.C\n")

	t.Run("reorders and appends unmentioned units", func(t *testing.T) {
		t.Parallel()
		ordering := mustParse(t, "--suite Root.C\n--suite Root.A\n")
		out, err := ApplyOrdering(mustParse(t, "--suite Root.A\n--suite Root.B\n--suite Root.C\n"), ordering)
		require.NoError(t, err)
		assert.Equal(t, []string{"Root.C", "Root.A", "Root.B"}, unitNames(out))
	})

	t.Run("suffix names resolve to full names", func(t *testing.T) {
		t.Parallel()
		ordering := mustParse(t, "--suite B\n")
		out, err := ApplyOrdering(mustParse(t, "--suite Root.A\n--suite Root.B\n--suite Root.C\n"), ordering)
		require.NoError(t, err)
		assert.Equal(t, []string{"Root.B", "Root.A", "Root.C"}, unitNames(out))
	})

	t.Run("barriers and annotations carry over", func(t *testing.T) {
		t.Parallel()
		ordering := mustParse(t, "--suite Root.B\n#WAIT\n#SLEEP 3\n--suite Root.A #DEPENDS Root.B\n")
		out, err := ApplyOrdering(mustParse(t, "--suite Root.A\n--suite Root.B\n--suite Root.C\n"), ordering)
		require.NoError(t, err)

		require.Len(t, out.Items, 4)
		assert.Equal(t, ItemWait, out.Items[1].Type)
		units := out.Units()
		assert.Equal(t, 3, units[1].Sleep)
		assert.Equal(t, []int{units[0].ID}, units[1].DependsOn)
	})

	t.Run("groups dispatch resolved members", func(t *testing.T) {
		t.Parallel()
		ordering := mustParse(t, "{\n--suite Root.A\n--suite Root.C\n}\n")
		out, err := ApplyOrdering(mustParse(t, "--suite Root.A\n--suite Root.B\n--suite Root.C\n"), ordering)
		require.NoError(t, err)

		units := out.Units()
		require.Len(t, units, 2)
		assert.Equal(t, KindGroup, units[0].Kind)
		assert.Equal(t, "Group_Root.A_Root.C", units[0].Name)
		assert.Equal(t, "Root.B", units[1].Name)
	})

	t.Run("unknown entry rejected", func(t *testing.T) {
		t.Parallel()
		ordering := mustParse(t, "--suite Root.Missing\n")
		_, err := ApplyOrdering(mustParse(t, "--suite Root.A\n"), ordering)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not match")
	})

	t.Run("ambiguous suffix rejected", func(t *testing.T) {
		t.Parallel()
		amb := mustParse(t, "--suite One.Sub\n--suite Two.Sub\n")
		ordering := mustParse(t, "--suite Sub\n")
		_, err := ApplyOrdering(amb, ordering)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fully qualified")
	})

	t.Run("too many entries rejected", func(t *testing.T) {
		t.Parallel()
		ordering := mustParse(t, "--suite Root.A\n--suite Root.A\n--suite Root.A\n--suite Root.A\n")
		_, err := ApplyOrdering(base, ordering)
		require.Error(t, err)
	})
}
