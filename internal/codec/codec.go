// Package codec converts requisition records to and from the delimited (CSV)
// and hierarchical (XML) file formats exchanged with the procurement platform.
package codec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mamadbah2/reqsync/internal/domain/models"
)

// ErrParse marks malformed serialized content.
var ErrParse = errors.New("malformed requisition content")

// ErrUnencodable marks records that the target format cannot represent.
var ErrUnencodable = errors.New("record cannot be encoded")

// ErrUnsupportedFormat indicates a file extension or format with no codec.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Kind is the value type a field is parsed into.
type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindDecimal
)

// Schema maps field names to value kinds. Fields not listed are strings.
type Schema map[string]Kind

// DefaultSchema covers the numeric fields of requisition exports.
func DefaultSchema() Schema {
	return Schema{
		"line_number": KindInteger,
		"quantity":    KindDecimal,
		"unit_price":  KindDecimal,
		"amount":      KindDecimal,
		"total":       KindDecimal,
	}
}

// ShortRowPolicy decides what happens to CSV rows with fewer cells than the header.
type ShortRowPolicy string

const (
	// ShortRowsLenient zero-fills missing trailing fields and drops extra cells.
	ShortRowsLenient ShortRowPolicy = "lenient"
	// ShortRowsStrict rejects rows whose width differs from the header.
	ShortRowsStrict ShortRowPolicy = "strict"
)

// ParseShortRowPolicy validates a configured policy name. Empty means lenient.
func ParseShortRowPolicy(value string) (ShortRowPolicy, error) {
	switch ShortRowPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", ShortRowsLenient:
		return ShortRowsLenient, nil
	case ShortRowsStrict:
		return ShortRowsStrict, nil
	default:
		return "", fmt.Errorf("unknown short row policy %q", value)
	}
}

// Codec parses and serializes record sequences.
type Codec struct {
	schema        Schema
	shortRows     ShortRowPolicy
	lineTags      map[string]bool
	containerTags map[string]bool
}

// Option customizes a Codec.
type Option func(*Codec)

// WithSchema replaces the default field schema.
func WithSchema(schema Schema) Option {
	return func(c *Codec) {
		c.schema = schema
	}
}

// WithShortRowPolicy sets the CSV short row policy.
func WithShortRowPolicy(policy ShortRowPolicy) Option {
	return func(c *Codec) {
		c.shortRows = policy
	}
}

// New builds a codec with the default schema and the lenient short row policy.
func New(opts ...Option) *Codec {
	c := &Codec{
		schema:    DefaultSchema(),
		shortRows: ShortRowsLenient,
		lineTags: map[string]bool{
			"requisition_line":      true,
			"requisition_line_item": true,
			"line_item":             true,
			"line":                  true,
		},
		containerTags: map[string]bool{
			"requisition_lines":      true,
			"requisition_line_items": true,
			"line_items":             true,
			"lines":                  true,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.schema == nil {
		c.schema = Schema{}
	}
	return c
}

// Parse decodes file bytes in the given format.
func (c *Codec) Parse(data []byte, format models.Format) ([]models.Record, error) {
	switch format {
	case models.FormatCSV:
		return c.parseCSV(data)
	case models.FormatXML:
		return c.parseXML(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Serialize encodes records in the given format.
func (c *Codec) Serialize(records []models.Record, format models.Format) ([]byte, error) {
	switch format {
	case models.FormatCSV:
		return c.serializeCSV(records)
	case models.FormatXML:
		return c.serializeXML(records)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// ParseFile reads a local file and parses it according to its extension.
func (c *Codec) ParseFile(path string) ([]models.Record, error) {
	format, ok := models.FormatFromFilename(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	records, err := c.Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return records, nil
}

// WriteFile serializes records into path, creating parent directories.
func (c *Codec) WriteFile(path string, records []models.Record, format models.Format) error {
	data, err := c.Serialize(records, format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Header returns the union of record fields in first-seen order.
func Header(records []models.Record) []string {
	seen := make(map[string]bool)
	var header []string
	for _, rec := range records {
		for _, name := range rec.Fields() {
			if seen[name] {
				continue
			}
			seen[name] = true
			header = append(header, name)
		}
	}
	return header
}

func (c *Codec) convert(field, text string) (any, error) {
	switch c.schema[field] {
	case KindInteger:
		v, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: %q is not an integer", field, text)
		}
		return v, nil
	case KindDecimal:
		v, err := decimal.NewFromString(strings.TrimSpace(text))
		if err != nil {
			return nil, fmt.Errorf("field %s: %q is not a number", field, text)
		}
		return v, nil
	default:
		return text, nil
	}
}

func (c *Codec) zero(field string) any {
	switch c.schema[field] {
	case KindInteger:
		return int64(0)
	case KindDecimal:
		return decimal.Zero
	default:
		return ""
	}
}
