package merger

import (
	"encoding/xml"

	"github.com/pabot-dev/pabot/internal/errors"
)

// Combine joins several already-merged outputs (one per argument-file
// variant) into a single document whose variant roots sit as siblings under
// a synthetic parent suite. The inputs merge in the given order.
func Combine(inputs []string, outputPath, rootName string) error {
	if rootName == "" {
		rootName = "Suites"
	}
	var robot *node
	parent := &node{
		XMLName: xml.Name{Local: "suite"},
		Attrs:   []xml.Attr{{Name: xml.Name{Local: "name"}, Value: rootName}},
		Text:    []string{""},
	}
	status := "PASS"

	for _, path := range inputs {
		tree, err := parseFile(path)
		if err != nil {
			return errors.WrapWithMessage(err, errors.Merge, "combining variant outputs")
		}
		if robot == nil {
			robot = &node{XMLName: tree.XMLName, Attrs: tree.Attrs, Text: []string{""}}
		}
		suite := tree.child("suite")
		if suite == nil {
			continue
		}
		if st := suite.child("status"); st != nil && st.attr("status") == "FAIL" {
			status = "FAIL"
		}
		appendChild(parent, suite)
	}
	if robot == nil {
		return errors.NewMergeError("no variant outputs to combine")
	}

	appendChild(parent, &node{
		XMLName: xml.Name{Local: "status"},
		Attrs:   []xml.Attr{{Name: xml.Name{Local: "status"}, Value: status}},
		Text:    []string{""},
	})
	appendChild(robot, parent)
	return writeOutput(outputPath, robot)
}
