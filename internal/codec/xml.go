package codec

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/mamadbah2/reqsync/internal/domain/models"
)

const (
	xmlRootTag   = "requisitions"
	xmlRecordTag = "requisition"
)

var xmlFieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// element is a minimal DOM node; only element children and character data are kept.
type element struct {
	name     string
	text     strings.Builder
	children []*element
}

func (e *element) isLeaf() bool {
	return len(e.children) == 0
}

func fieldName(tag string) string {
	return strings.ReplaceAll(tag, "-", "_")
}

func (c *Codec) parseXML(data []byte) ([]models.Record, error) {
	root, err := decodeTree(data)
	if err != nil {
		return nil, err
	}
	if root == nil || root.isLeaf() {
		return nil, nil
	}

	// A document whose root holds only leaves is a single requisition.
	requisitions := root.children
	allLeaves := true
	for _, child := range root.children {
		if !child.isLeaf() {
			allLeaves = false
			break
		}
	}
	if allLeaves {
		requisitions = []*element{root}
	}

	var records []models.Record
	for i, req := range requisitions {
		// Leaves beside requisition elements are document metadata.
		if !allLeaves && req.isLeaf() {
			continue
		}
		recs, err := c.recordsFromElement(req)
		if err != nil {
			return nil, fmt.Errorf("%w: xml %s #%d: %v", ErrParse, req.name, i+1, err)
		}
		records = append(records, recs...)
	}
	return records, nil
}

// recordsFromElement expands one requisition into one record per line block,
// each carrying the requisition's header fields.
func (c *Codec) recordsFromElement(req *element) ([]models.Record, error) {
	header := models.NewRecord()
	var lines []*element

	for _, child := range req.children {
		name := fieldName(child.name)
		switch {
		case child.isLeaf():
			if err := c.setLeaf(&header, name, child); err != nil {
				return nil, err
			}
		case c.lineTags[name]:
			lines = append(lines, child)
		case c.containerTags[name]:
			for _, grandchild := range child.children {
				if grandchild.isLeaf() {
					if err := c.setLeaf(&header, name+"_"+fieldName(grandchild.name), grandchild); err != nil {
						return nil, err
					}
					continue
				}
				lines = append(lines, grandchild)
			}
		default:
			if err := c.flatten(&header, name+"_", child); err != nil {
				return nil, err
			}
		}
	}

	if len(lines) == 0 {
		return []models.Record{header}, nil
	}

	records := make([]models.Record, 0, len(lines))
	for _, line := range lines {
		rec := header.Clone()
		if err := c.flatten(&rec, "", line); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *Codec) flatten(rec *models.Record, prefix string, el *element) error {
	for _, child := range el.children {
		name := prefix + fieldName(child.name)
		if child.isLeaf() {
			if err := c.setLeaf(rec, name, child); err != nil {
				return err
			}
			continue
		}
		if err := c.flatten(rec, name+"_", child); err != nil {
			return err
		}
	}
	return nil
}

func (c *Codec) setLeaf(rec *models.Record, name string, leaf *element) error {
	text := leaf.text.String()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	value, err := c.convert(name, text)
	if err != nil {
		return err
	}
	rec.Set(name, value)
	return nil
}

func decodeTree(data []byte) (*element, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var root *element
	var stack []*element
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read xml: %v", ErrParse, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &element{name: t.Name.Local}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("%w: xml has more than one root element", ErrParse)
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}

	if len(stack) != 0 {
		return nil, fmt.Errorf("%w: xml ends inside element %s", ErrParse, stack[len(stack)-1].name)
	}
	if root == nil && len(bytes.TrimSpace(data)) > 0 {
		return nil, fmt.Errorf("%w: xml has no root element", ErrParse)
	}
	return root, nil
}

func (c *Codec) serializeXML(records []models.Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	root := xml.StartElement{Name: xml.Name{Local: xmlRootTag}}
	if err := enc.EncodeToken(root); err != nil {
		return nil, fmt.Errorf("encode xml root: %w", err)
	}

	for i, rec := range records {
		start := xml.StartElement{Name: xml.Name{Local: xmlRecordTag}}
		if err := enc.EncodeToken(start); err != nil {
			return nil, fmt.Errorf("encode xml record %d: %w", i+1, err)
		}
		for _, name := range rec.Fields() {
			if !xmlFieldName.MatchString(name) || strings.HasPrefix(strings.ToLower(name), "xml") {
				return nil, fmt.Errorf("%w: field %q is not a valid xml element name", ErrUnencodable, name)
			}
			field := xml.StartElement{Name: xml.Name{Local: name}}
			if err := enc.EncodeElement(rec.Text(name), field); err != nil {
				return nil, fmt.Errorf("encode xml field %s: %w", name, err)
			}
		}
		if err := enc.EncodeToken(start.End()); err != nil {
			return nil, fmt.Errorf("encode xml record %d: %w", i+1, err)
		}
	}

	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, fmt.Errorf("encode xml root: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("flush xml: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
