package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureOutputXML = `<?xml version="1.0" encoding="UTF-8"?>
<robot>
<suite name="Root">
<suite name="Alpha">
<test name="First"><status status="PASS"/></test>
<test name="Second"><status status="PASS"/></test>
</suite>
<suite name="Beta">
<suite name="Deep">
<test name="Third"><status status="PASS"/></test>
</suite>
</suite>
</suite>
</robot>
`

func writeFixture(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "output.xml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// fakeRunner returns a command that ignores its arguments except --output,
// where it copies the fixture file. It stands in for the runner's dry-run.
func fakeRunner(t *testing.T, fixture string) []string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake runner script requires a POSIX shell")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-runner.sh")
	content := fmt.Sprintf("#!/bin/sh\nwhile [ \"$1\" != \"--output\" ] && [ $# -gt 0 ]; do shift; done\ncp %q \"$2\"\n", fixture)
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
	return []string{script}
}

func discoverOpts(t *testing.T, testLevel bool) (Options, string) {
	t.Helper()
	dir := t.TempDir()
	source := filepath.Join(dir, "tests")
	require.NoError(t, os.MkdirAll(source, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "alpha.robot"), []byte("*** Test Cases ***\n"), 0o644))

	fixture := writeFixture(t, dir, fixtureOutputXML)
	return Options{
		Command:        fakeRunner(t, fixture),
		Datasources:    []string{source},
		TestLevelSplit: testLevel,
		CachePath:      filepath.Join(dir, CacheFileName),
		ScratchDir:     filepath.Join(dir, "scratch"),
	}, fixture
}

func TestDiscover_SuiteLevel(t *testing.T) {
	t.Parallel()

	opts, _ := discoverOpts(t, false)
	p, err := Discover(context.Background(), opts)
	require.NoError(t, err)

	units := p.Units()
	require.Len(t, units, 2)
	assert.Equal(t, "Root.Alpha", units[0].Name)
	assert.Equal(t, "Root.Beta.Deep", units[1].Name)
}

func TestDiscover_TestLevel(t *testing.T) {
	t.Parallel()

	opts, _ := discoverOpts(t, true)
	p, err := Discover(context.Background(), opts)
	require.NoError(t, err)

	var names []string
	for _, u := range p.Units() {
		names = append(names, u.Name)
	}
	assert.Equal(t, []string{"Root.Alpha.First", "Root.Alpha.Second", "Root.Beta.Deep.Third"}, names)
}

func TestDiscover_CacheReused(t *testing.T) {
	t.Parallel()

	opts, fixture := discoverOpts(t, false)
	_, err := Discover(context.Background(), opts)
	require.NoError(t, err)

	// Break the fake runner's input; a second pass must come from the
	// cache without invoking the runner at all.
	require.NoError(t, os.Remove(fixture))
	p, err := Discover(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, p.Units(), 2)
}

func TestDiscover_CachePreservesUserAnnotations(t *testing.T) {
	t.Parallel()

	opts, _ := discoverOpts(t, false)
	_, err := Discover(context.Background(), opts)
	require.NoError(t, err)

	// The user swaps the two body lines; the cache is stored again with
	// current fingerprints, so the edited order is used as-is.
	cache, err := LoadCache(opts.CachePath)
	require.NoError(t, err)
	require.Len(t, cache.Body, 2)
	edited := []string{cache.Body[1], cache.Body[0]}
	require.NoError(t, StoreCache(opts.CachePath, currentMust(t, opts), edited))

	p, err := Discover(context.Background(), opts)
	require.NoError(t, err)
	units := p.Units()
	require.Len(t, units, 2)
	assert.Equal(t, "Root.Beta.Deep", units[0].Name)
}

func currentMust(t *testing.T, opts Options) Hashes {
	t.Helper()
	h, err := currentHashes(opts)
	require.NoError(t, err)
	return h
}

func TestDiscover_ForceRegenerate(t *testing.T) {
	t.Parallel()

	opts, fixture := discoverOpts(t, false)
	_, err := Discover(context.Background(), opts)
	require.NoError(t, err)

	opts.ForceRegenerate = true
	require.NoError(t, os.Remove(fixture))
	_, err = Discover(context.Background(), opts)
	assert.Error(t, err)
}

func TestReconcile(t *testing.T) {
	t.Parallel()

	listing := &Listing{
		Suites: []string{"Root.Alpha", "Root.Beta", "Root.New"},
		TestsBySuite: map[string][]string{
			"Root.Alpha": {"Root.Alpha.First"},
			"Root.Beta":  {"Root.Beta.Second"},
			"Root.New":   {"Root.New.Third"},
		},
	}

	tests := map[string]struct {
		oldBody   []string
		testLevel bool
		want      []string
	}{
		"vanished unit dropped, new appended": {
			oldBody: []string{"--suite Root.Gone", "--suite Root.Beta", "--suite Root.Alpha"},
			want:    []string{"--suite Root.Beta", "--suite Root.Alpha", "--suite Root.New"},
		},
		"barriers and annotations survive": {
			oldBody: []string{"--suite Root.Alpha", "#WAIT", "--suite Root.Beta #DEPENDS Root.Alpha"},
			want:    []string{"--suite Root.Alpha", "#WAIT", "--suite Root.Beta #DEPENDS Root.Alpha", "--suite Root.New"},
		},
		"explicit suite stays suite level under split": {
			oldBody:   []string{"--suite Root.Alpha"},
			testLevel: true,
			want:      []string{"--suite Root.Alpha", "--test Root.Beta.Second", "--test Root.New.Third"},
		},
		"double waits collapse after drop": {
			oldBody: []string{"--suite Root.Alpha", "#WAIT", "--suite Root.Gone", "#WAIT", "--suite Root.Beta"},
			want:    []string{"--suite Root.Alpha", "#WAIT", "--suite Root.Beta", "--suite Root.New"},
		},
		"group emptied by vanished units is removed": {
			oldBody: []string{"{", "--suite Root.Gone", "}", "--suite Root.Alpha", "--suite Root.Beta"},
			want:    []string{"--suite Root.Alpha", "--suite Root.Beta", "--suite Root.New"},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got := reconcile(tt.oldBody, listing.Suites, listing, tt.testLevel)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrderBySuitesFrom(t *testing.T) {
	t.Parallel()

	const previous = `<?xml version="1.0" encoding="UTF-8"?>
<robot>
<suite name="Root">
<suite name="Quick">
<test name="T"><status status="PASS"/></test>
<status status="PASS" starttime="20260314 09:00:00.000" endtime="20260314 09:00:01.000"/>
</suite>
<suite name="Slow">
<test name="T"><status status="PASS"/></test>
<status status="PASS" starttime="20260314 09:00:00.000" endtime="20260314 09:05:00.000"/>
</suite>
<suite name="Broken">
<test name="T"><status status="FAIL"/></test>
<status status="FAIL" starttime="20260314 09:00:00.000" endtime="20260314 09:00:02.000"/>
</suite>
</suite>
</robot>
`
	path := writeFixture(t, t.TempDir(), previous)

	ordered, err := OrderBySuitesFrom(
		[]string{"Root.Quick", "Root.Slow", "Root.Broken", "Root.Unknown"}, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Root.Broken", "Root.Slow", "Root.Quick", "Root.Unknown"}, ordered)
}
