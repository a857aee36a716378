// Package merger consolidates the per-unit output XMLs produced by worker
// subprocesses into a single report tree, rewriting artifact references
// along the way. The merge is deterministic: the same inputs always yield
// byte-identical output.
package merger

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
)

// node is a generic XML element. The merger works on a generic tree so it
// survives schema differences between runner versions without dropping
// anything it does not understand.
type node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr
	Children []*node
	// Text holds character data interleaved before each child; Text[i]
	// precedes Children[i] and Text[len(Children)] trails the element.
	Text []string
}

// attr returns the value of the named attribute, or "".
func (n *node) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// child returns the first child element with the given tag, or nil.
func (n *node) child(tag string) *node {
	for _, c := range n.Children {
		if c.XMLName.Local == tag {
			return c
		}
	}
	return nil
}

// UnmarshalXML decodes an element and its whole subtree.
func (n *node) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	n.XMLName = start.Name
	n.Attrs = append(n.Attrs, start.Attr...)
	n.Text = []string{""}
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child := &node{}
			if err := child.UnmarshalXML(d, t); err != nil {
				return err
			}
			n.Children = append(n.Children, child)
			n.Text = append(n.Text, "")
		case xml.CharData:
			n.Text[len(n.Text)-1] += string(t)
		case xml.EndElement:
			return nil
		}
	}
}

// write serializes the node. Text segments are escaped; the tree renders
// exactly as stored, with no added indentation, so output is reproducible.
func (n *node) write(w io.Writer) error {
	fmt.Fprintf(w, "<%s", n.XMLName.Local)
	for _, a := range n.Attrs {
		var buf bytes.Buffer
		xml.EscapeText(&buf, []byte(a.Value))
		fmt.Fprintf(w, " %s=\"%s\"", attrName(a.Name), buf.String())
	}
	if len(n.Children) == 0 && textIsEmpty(n.Text) {
		fmt.Fprint(w, "/>")
		return nil
	}
	fmt.Fprint(w, ">")
	for i, child := range n.Children {
		if err := writeText(w, n.Text[i]); err != nil {
			return err
		}
		if err := child.write(w); err != nil {
			return err
		}
	}
	if err := writeText(w, n.Text[len(n.Children)]); err != nil {
		return err
	}
	fmt.Fprintf(w, "</%s>", n.XMLName.Local)
	return nil
}

func attrName(name xml.Name) string {
	if name.Space != "" {
		return name.Space + ":" + name.Local
	}
	return name.Local
}

func writeText(w io.Writer, text string) error {
	if text == "" {
		return nil
	}
	return xml.EscapeText(w, []byte(text))
}

func textIsEmpty(texts []string) bool {
	for _, t := range texts {
		if t != "" {
			return false
		}
	}
	return true
}

// parseFile reads one runner output file into a tree.
func parseFile(path string) (*node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	d := xml.NewDecoder(f)
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			root := &node{}
			if err := root.UnmarshalXML(d, start); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
			return root, nil
		}
	}
}
