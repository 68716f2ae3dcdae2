package codec

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/mamadbah2/reqsync/internal/domain/models"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func (c *Codec) parseCSV(data []byte) ([]models.Record, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv: %v", ErrParse, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := make([]string, len(rows[0]))
	seen := make(map[string]bool, len(rows[0]))
	for i, raw := range rows[0] {
		name := strings.TrimSpace(raw)
		if name == "" {
			return nil, fmt.Errorf("%w: csv header column %d is empty", ErrParse, i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: csv header repeats field %s", ErrParse, name)
		}
		seen[name] = true
		header[i] = name
	}

	records := make([]models.Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		line := i + 2
		if len(row) != len(header) && c.shortRows == ShortRowsStrict {
			return nil, fmt.Errorf("%w: csv row %d: expected %d columns, got %d", ErrParse, line, len(header), len(row))
		}

		rec := models.NewRecord()
		for j, name := range header {
			if j >= len(row) {
				rec.Set(name, c.zero(name))
				continue
			}
			if row[j] == "" {
				continue
			}
			value, err := c.convert(name, row[j])
			if err != nil {
				return nil, fmt.Errorf("%w: csv row %d: %v", ErrParse, line, err)
			}
			rec.Set(name, value)
		}
		records = append(records, rec)
	}

	return records, nil
}

func (c *Codec) serializeCSV(records []models.Record) ([]byte, error) {
	header := Header(records)
	if len(header) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	row := make([]string, len(header))
	for i, rec := range records {
		for j, name := range header {
			row[j] = rec.Text(name)
			// encoding/csv reads a quoted \r\n back as \n.
			if strings.Contains(row[j], "\r") {
				return nil, fmt.Errorf("%w: csv row %d: field %s contains a carriage return", ErrUnencodable, i+2, name)
			}
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row %d: %w", i+2, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
