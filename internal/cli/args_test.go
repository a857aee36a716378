package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pabot-dev/pabot/internal/config"
	pabotErrors "github.com/pabot-dev/pabot/internal/errors"
)

func defaults() *config.Configuration {
	return &config.Configuration{
		Command:             []string{"robot"},
		CoordinationEnabled: true,
		CoordinationHost:    "127.0.0.1",
		CoordinationPort:    8270,
		Artifacts:           []string{"png"},
		OutputDir:           ".",
	}
}

func existingDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "tests")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}

func TestParseArgs_Defaults(t *testing.T) {
	t.Parallel()

	args, err := ParseArgs(nil, defaults())
	require.NoError(t, err)

	assert.Equal(t, []string{"robot"}, args.Command)
	assert.True(t, args.CoordinationEnabled)
	assert.Equal(t, 8270, args.CoordinationPort)
	assert.Equal(t, []string{"png"}, args.Artifacts)
	assert.Equal(t, 1, args.ShardIndex)
	assert.Equal(t, 1, args.ShardCount)
}

func TestParseArgs_Flags(t *testing.T) {
	t.Parallel()

	dir := existingDir(t)
	args, err := ParseArgs([]string{
		"--verbose", "--testlevelsplit", "--processes", "6",
		"--processtimeout", "120", "--artifacts", "png,log,txt",
		"--artifactsinsubfolders", "--no-rebot", "--chunk", dir,
	}, defaults())
	require.NoError(t, err)

	assert.True(t, args.Verbose)
	assert.True(t, args.TestLevelSplit)
	assert.Equal(t, 6, args.Processes)
	assert.Equal(t, 120, args.ProcessTimeout)
	assert.Equal(t, []string{"png", "log", "txt"}, args.Artifacts)
	assert.True(t, args.ArtifactsInSubfolders)
	assert.True(t, args.NoRebot)
	assert.True(t, args.Chunk)
	assert.Equal(t, []string{dir}, args.Datasources)
}

func TestParseArgs_ProcessesAll(t *testing.T) {
	t.Parallel()

	args, err := ParseArgs([]string{"--processes", "all"}, defaults())
	require.NoError(t, err)
	assert.True(t, args.ProcessesAll)
}

func TestParseArgs_Command(t *testing.T) {
	t.Parallel()

	args, err := ParseArgs([]string{
		"--command", "python", "-m", "robot", "--end-command", "--verbose",
	}, defaults())
	require.NoError(t, err)

	assert.Equal(t, []string{"python", "-m", "robot"}, args.Command)
	assert.True(t, args.Verbose)
}

func TestParseArgs_CommandWithoutEnd(t *testing.T) {
	t.Parallel()

	_, err := ParseArgs([]string{"--command", "python"}, defaults())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--end-command")
}

func TestParseArgs_CoordinationFlags(t *testing.T) {
	t.Parallel()

	t.Run("no-pabotlib disables", func(t *testing.T) {
		t.Parallel()
		args, err := ParseArgs([]string{"--no-pabotlib"}, defaults())
		require.NoError(t, err)
		assert.False(t, args.CoordinationEnabled)
	})

	t.Run("remote host disables local server", func(t *testing.T) {
		t.Parallel()
		args, err := ParseArgs([]string{"--pabotlibhost", "10.0.0.9", "--pabotlibport", "9999"}, defaults())
		require.NoError(t, err)
		assert.False(t, args.CoordinationEnabled)
		assert.Equal(t, "10.0.0.9", args.CoordinationHost)
		assert.Equal(t, 9999, args.CoordinationPort)
	})

	t.Run("both lib flags conflict", func(t *testing.T) {
		t.Parallel()
		_, err := ParseArgs([]string{"--pabotlib", "--no-pabotlib"}, defaults())
		require.Error(t, err)
		assert.True(t, pabotErrors.IsCategory(err, pabotErrors.Usage))
	})
}

func TestParseArgs_Shard(t *testing.T) {
	t.Parallel()

	args, err := ParseArgs([]string{"--shard", "2/5"}, defaults())
	require.NoError(t, err)
	assert.Equal(t, 2, args.ShardIndex)
	assert.Equal(t, 5, args.ShardCount)

	for _, bad := range []string{"0/3", "4/3", "x/3", "3"} {
		_, err := ParseArgs([]string{"--shard", bad}, defaults())
		assert.Error(t, err, "shard %q", bad)
	}
}

func TestParseArgs_ArgumentFiles(t *testing.T) {
	t.Parallel()

	args, err := ParseArgs([]string{
		"--argumentfile1", "one.txt", "--argumentfile2", "two.txt",
	}, defaults())
	require.NoError(t, err)

	require.Len(t, args.ArgumentFiles, 2)
	assert.Equal(t, ArgFile{Index: "1", Path: "one.txt"}, args.ArgumentFiles[0])
	assert.Equal(t, ArgFile{Index: "2", Path: "two.txt"}, args.ArgumentFiles[1])
}

func TestParseArgs_PassThroughAndDatasources(t *testing.T) {
	t.Parallel()

	dir := existingDir(t)
	args, err := ParseArgs([]string{
		"--processes", "2", "--include", "smoke", "--loglevel", "DEBUG", dir,
	}, defaults())
	require.NoError(t, err)

	assert.Equal(t, []string{"--include", "smoke", "--loglevel", "DEBUG"}, args.Remaining)
	assert.Equal(t, []string{dir}, args.Datasources)
}

func TestParseArgs_MultipleDatasources(t *testing.T) {
	t.Parallel()

	dirA, dirB := existingDir(t), existingDir(t)
	args, err := ParseArgs([]string{"--include", "smoke", dirA, dirB}, defaults())
	require.NoError(t, err)

	assert.Equal(t, []string{"--include", "smoke"}, args.Remaining)
	assert.Equal(t, []string{dirA, dirB}, args.Datasources)
}

func TestParseArgs_NonPathValueStaysPassThrough(t *testing.T) {
	t.Parallel()

	dir := existingDir(t)
	args, err := ParseArgs([]string{"--include", "smoke-tag", dir}, defaults())
	require.NoError(t, err)

	// "smoke-tag" is not a path, so it stays with its flag.
	assert.Equal(t, []string{"--include", "smoke-tag"}, args.Remaining)
	assert.Equal(t, []string{dir}, args.Datasources)
}

func TestParseArgs_MissingValues(t *testing.T) {
	t.Parallel()

	for _, flag := range []string{"--processes", "--ordering", "--suitesfrom", "--shard", "--artifacts", "--resourcefile"} {
		_, err := ParseArgs([]string{flag}, defaults())
		assert.Error(t, err, "flag %s", flag)
	}
}
