package parser

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"feedport/internal/record"
)

var ErrNoWrapper = errors.New("record wrapper element not found")

// Hierarchical streams a markup feed bounded by a repeating record-wrapper
// element. Every scalar leaf reachable from a record becomes one catalogue
// path (dot-joined, bracket-indexed for repeated elements); container nodes
// are catalogued too so a mapping can target a whole sub-tree.
//
// The catalogue accumulates across paginated calls: later pages may reveal
// fields absent from earlier ones, and entries are never removed.
type Hierarchical struct {
	path    string
	wrapper string
	cat     *record.Catalogue
}

func NewHierarchical(path, wrapper string) *Hierarchical {
	return &Hierarchical{path: path, wrapper: wrapper, cat: record.NewCatalogue()}
}

// node is one parsed element of a record sub-tree.
type node struct {
	name     string
	text     string
	children []*node
}

func (n *node) isLeaf() bool {
	return len(n.children) == 0
}

// ParseStructure samples one page of pageSize records and returns the
// accumulated catalogue, the page's decoded records, and pagination
// metadata. The file is streamed token-wise; only the current page's
// records are materialized.
func (h *Hierarchical) ParseStructure(page, pageSize int) (*Structure, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	start := (page - 1) * pageSize

	f, err := os.Open(h.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := xml.NewDecoder(f)
	var window []*record.Record
	total := 0
	for {
		if total < start || len(window) == pageSize {
			// Outside the window only the count matters; skip the
			// subtree without materializing it.
			if err := h.skipRecord(dec); err == io.EOF {
				break
			} else if err != nil {
				return nil, err
			}
			total++
			continue
		}
		n, err := h.nextRecord(dec)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rec := record.New()
		flatten(n, "", rec, h.cat)
		window = append(window, rec)
		total++
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoWrapper, h.wrapper)
	}

	totalPages := (total + pageSize - 1) / pageSize
	return &Structure{
		Catalogue:    h.cat,
		Records:      window,
		TotalRecords: total,
		CurrentPage:  page,
		TotalPages:   totalPages,
	}, nil
}

// ExtractRecords returns up to limit records starting at offset.
func (h *Hierarchical) ExtractRecords(offset, limit int) ([]*record.Record, error) {
	f, err := os.Open(h.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := xml.NewDecoder(f)
	var out []*record.Record
	idx := 0
	for len(out) < limit {
		if idx < offset {
			if err := h.skipRecord(dec); err == io.EOF {
				break
			} else if err != nil {
				return nil, err
			}
			idx++
			continue
		}
		n, err := h.nextRecord(dec)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rec := record.New()
		flatten(n, "", rec, h.cat)
		out = append(out, rec)
		idx++
	}
	return out, nil
}

// CountRecords counts wrapper occurrences in one token-streaming pass,
// skipping each record's subtree without materializing it.
func (h *Hierarchical) CountRecords() (int, error) {
	f, err := os.Open(h.path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := xml.NewDecoder(f)
	count := 0
	for {
		if err := h.skipRecord(dec); err == io.EOF {
			return count, nil
		} else if err != nil {
			return count, err
		}
		count++
	}
}

// ExtractGrouped extracts records and lifts the repeated children of the
// configured variation container path into Variants on the parent record.
func (h *Hierarchical) ExtractGrouped(containerPath string, offset, limit int) ([]*record.Record, error) {
	f, err := os.Open(h.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := xml.NewDecoder(f)
	var out []*record.Record
	idx := 0
	for len(out) < limit {
		n, err := h.nextRecord(dec)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if idx < offset {
			idx++
			continue
		}
		rec := record.New()
		flatten(n, "", rec, h.cat)
		if container := findPath(n, containerPath); container != nil {
			for _, child := range container.children {
				v := record.New()
				flatten(child, "", v, record.NewCatalogue())
				rec.Variants = append(rec.Variants, v)
			}
		}
		out = append(out, rec)
		idx++
	}
	return out, nil
}

// nextRecord advances the decoder to the next wrapper element and parses its
// whole subtree. Returns io.EOF when no wrapper remains.
func (h *Hierarchical) nextRecord(dec *xml.Decoder) (*node, error) {
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("markup scan: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == h.wrapper {
			return parseElement(dec, se)
		}
	}
}

func (h *Hierarchical) skipRecord(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return io.EOF
		}
		if err != nil {
			return err
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == h.wrapper {
			return dec.Skip()
		}
	}
}

// parseElement recursively builds a node tree for one element. Attributes
// become leaf children prefixed with '@'.
func parseElement(dec *xml.Decoder, start xml.StartElement) (*node, error) {
	n := &node{name: start.Name.Local}
	for _, attr := range start.Attr {
		n.children = append(n.children, &node{
			name: "@" + attr.Name.Local,
			text: attr.Value,
		})
	}
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse element %q: %w", start.Name.Local, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := parseElement(dec, t)
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if trimmed := strings.TrimSpace(text.String()); trimmed != "" && len(n.children) == len(start.Attr) {
				n.text = trimmed
			}
			return n, nil
		}
	}
}

// flatten walks a record tree and writes leaf values plus container markers
// into the record and the catalogue. Repeated sibling names get bracket
// indices; the unindexed container path is catalogued as an array.
func flatten(n *node, prefix string, rec *record.Record, cat *record.Catalogue) {
	counts := map[string]int{}
	for _, child := range n.children {
		counts[child.name]++
	}
	seen := map[string]int{}
	for _, child := range n.children {
		path := child.name
		if prefix != "" {
			path = prefix + "." + child.name
		}
		repeated := counts[child.name] > 1
		if repeated {
			idx := seen[child.name]
			seen[child.name]++
			if idx == 0 {
				cat.Add(path, record.KindArray, "")
				rec.Set(path, collectSiblings(n, child.name))
			}
			path = fmt.Sprintf("%s[%d]", path, idx)
		}
		if child.isLeaf() {
			rec.Set(path, child.text)
			cat.Add(path, record.KindText, child.text)
			continue
		}
		if child.text != "" {
			// Element with attributes around a scalar value: the path
			// resolves to the text, attributes become child leaves.
			rec.Set(path, child.text)
			cat.Add(path, record.KindText, child.text)
		} else {
			cat.Add(path, record.KindObject, "")
			rec.Set(path, subtreeValue(child))
		}
		flatten(child, path, rec, cat)
	}
}

// collectSiblings gathers the values of all same-named children so the
// unindexed array path resolves to the whole list.
func collectSiblings(parent *node, name string) []any {
	var out []any
	for _, child := range parent.children {
		if child.name != name {
			continue
		}
		if child.isLeaf() {
			out = append(out, child.text)
		} else {
			out = append(out, subtreeValue(child))
		}
	}
	return out
}

// subtreeValue renders a container node as plain nested maps/slices so a
// mapping can target the whole sub-tree.
func subtreeValue(n *node) any {
	if n.isLeaf() {
		return n.text
	}
	counts := map[string]int{}
	for _, child := range n.children {
		counts[child.name]++
	}
	out := make(map[string]any, len(n.children))
	for _, child := range n.children {
		if counts[child.name] > 1 {
			if _, done := out[child.name]; !done {
				out[child.name] = collectSiblings(n, child.name)
			}
			continue
		}
		out[child.name] = subtreeValue(child)
	}
	return out
}

// findPath resolves a dotted container path within a record tree.
func findPath(n *node, path string) *node {
	if path == "" {
		return nil
	}
	cur := n
	for _, part := range strings.Split(path, ".") {
		var next *node
		for _, child := range cur.children {
			if child.name == part {
				next = child
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}
