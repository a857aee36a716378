package merger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pabotErrors "github.com/pabot-dev/pabot/internal/errors"
)

func writeOutputFile(t *testing.T, resultsDir, rel, content string) {
	t.Helper()
	path := filepath.Join(resultsDir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func mergeDirs(t *testing.T) (resultsDir, outputPath string) {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "pabot_results"), filepath.Join(dir, "output.xml")
}

const outputA = `<?xml version="1.0" encoding="UTF-8"?>
<robot generator="runner">
<suite name="Root">
<suite name="Alpha">
<test name="First"><status status="PASS"/></test>
<status status="PASS"/>
</suite>
<status status="PASS"/>
</suite>
</robot>
`

const outputB = `<?xml version="1.0" encoding="UTF-8"?>
<robot generator="runner">
<suite name="Root">
<suite name="Beta">
<test name="Second"><status status="FAIL"/></test>
<status status="FAIL"/>
</suite>
<status status="FAIL"/>
</suite>
</robot>
`

func TestMerge_CombinesSuitesUnderOneRoot(t *testing.T) {
	t.Parallel()

	resultsDir, outputPath := mergeDirs(t)
	writeOutputFile(t, resultsDir, "0/output.xml", outputA)
	writeOutputFile(t, resultsDir, "1/output.xml", outputB)

	require.NoError(t, Merge(Options{ResultsDir: resultsDir, OutputPath: outputPath}))

	merged, err := parseFile(outputPath)
	require.NoError(t, err)
	root := merged.child("suite")
	require.NotNil(t, root)
	assert.Equal(t, "Root", root.attr("name"))

	var childNames []string
	for _, c := range root.Children {
		if c.XMLName.Local == "suite" {
			childNames = append(childNames, c.attr("name"))
		}
	}
	assert.Equal(t, []string{"Alpha", "Beta"}, childNames)
	// A failing later input overrides the root status.
	assert.Equal(t, "FAIL", root.child("status").attr("status"))
}

func TestMerge_ReexecutedTestAppearsOnceLatestWins(t *testing.T) {
	t.Parallel()

	first := `<robot><suite name="Root"><suite name="Alpha"><test name="T"><status status="FAIL"/></test><status status="FAIL"/></suite><status status="FAIL"/></suite></robot>`
	second := `<robot><suite name="Root"><suite name="Alpha"><test name="T"><status status="PASS"/></test><status status="PASS"/></suite><status status="PASS"/></suite></robot>`

	resultsDir, outputPath := mergeDirs(t)
	writeOutputFile(t, resultsDir, "0/output.xml", first)
	writeOutputFile(t, resultsDir, "1/output.xml", second)

	require.NoError(t, Merge(Options{ResultsDir: resultsDir, OutputPath: outputPath}))

	merged, err := parseFile(outputPath)
	require.NoError(t, err)
	alpha := merged.child("suite").child("suite")
	require.NotNil(t, alpha)

	tests := 0
	for _, c := range alpha.Children {
		if c.XMLName.Local == "test" {
			tests++
			assert.Equal(t, "PASS", c.child("status").attr("status"))
		}
	}
	assert.Equal(t, 1, tests)
}

func TestMerge_NaturalOrderAcrossQueueIndexes(t *testing.T) {
	t.Parallel()

	// Directory 10 must merge after directory 9, so its attempt wins.
	nine := `<robot><suite name="Root"><test name="T"><status status="FAIL"/></test><status status="FAIL"/></suite></robot>`
	ten := `<robot><suite name="Root"><test name="T"><status status="PASS"/></test><status status="PASS"/></suite></robot>`

	resultsDir, outputPath := mergeDirs(t)
	writeOutputFile(t, resultsDir, "9/output.xml", nine)
	writeOutputFile(t, resultsDir, "10/output.xml", ten)

	require.NoError(t, Merge(Options{ResultsDir: resultsDir, OutputPath: outputPath}))

	merged, err := parseFile(outputPath)
	require.NoError(t, err)
	test := merged.child("suite").child("test")
	require.NotNil(t, test)
	assert.Equal(t, "PASS", test.child("status").attr("status"))
}

func TestMerge_Idempotent(t *testing.T) {
	t.Parallel()

	resultsDir, outputPath := mergeDirs(t)
	writeOutputFile(t, resultsDir, "0/output.xml", outputA)
	writeOutputFile(t, resultsDir, "1/output.xml", outputB)

	require.NoError(t, Merge(Options{ResultsDir: resultsDir, OutputPath: outputPath}))
	once, err := os.ReadFile(outputPath)
	require.NoError(t, err)

	require.NoError(t, Merge(Options{ResultsDir: resultsDir, OutputPath: outputPath}))
	twice, err := os.ReadFile(outputPath)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestMerge_ArtifactReferencesRewritten(t *testing.T) {
	t.Parallel()

	withImage := `<robot><suite name="Root"><test name="T"><msg>&lt;img src="shot.png"&gt;</msg><status status="PASS"/></test><status status="PASS"/></suite></robot>`

	resultsDir, outputPath := mergeDirs(t)
	writeOutputFile(t, resultsDir, "0/output.xml", withImage)

	require.NoError(t, Merge(Options{
		ResultsDir:      resultsDir,
		OutputPath:      outputPath,
		ArtifactMapping: map[string]string{"shot.png": "screenshots/shot-1.png"},
	}))

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "screenshots/shot-1.png")
	assert.NotContains(t, string(data), `src=&#34;shot.png&#34;`)
}

func TestMerge_CorruptInputStillEmits(t *testing.T) {
	t.Parallel()

	resultsDir, outputPath := mergeDirs(t)
	writeOutputFile(t, resultsDir, "0/output.xml", outputA)
	writeOutputFile(t, resultsDir, "1/output.xml", "<robot><suite name=")

	err := Merge(Options{ResultsDir: resultsDir, OutputPath: outputPath})
	require.Error(t, err)
	assert.True(t, pabotErrors.IsCategory(err, pabotErrors.Merge))
	// The healthy input still made it into the consolidated output.
	assert.FileExists(t, outputPath)
}

func TestMerge_NoOutputs(t *testing.T) {
	t.Parallel()

	resultsDir, outputPath := mergeDirs(t)
	err := Merge(Options{ResultsDir: resultsDir, OutputPath: outputPath})
	require.Error(t, err)
	assert.True(t, pabotErrors.IsCategory(err, pabotErrors.Merge))
}

func TestRewriteRefs(t *testing.T) {
	t.Parallel()

	mapping := map[string]string{"shot.png": "final/shot.png"}
	patterns := artifactPatterns(mapping)

	tests := map[string]struct {
		in   string
		want string
	}{
		"bare name":        {`<img src="shot.png">`, `<img src="final/shot.png">`},
		"with prefix":      {`<img src="sub/dir/shot.png">`, `<img src="final/shot.png">`},
		"href too":         {`<a href="shot.png">x</a>`, `<a href="final/shot.png">x</a>`},
		"other files kept": {`<img src="other.png">`, `<img src="other.png">`},
		"no refs":          {`plain text`, `plain text`},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, rewriteRefs(tt.in, patterns))
		})
	}
}

func TestNatLess(t *testing.T) {
	t.Parallel()

	items := []string{"r/10/o.xml", "r/2/o.xml", "r/1/o.xml", "r/1/a.xml"}
	natSort(items)
	assert.Equal(t, []string{"r/1/a.xml", "r/1/o.xml", "r/2/o.xml", "r/10/o.xml"}, items)
}
