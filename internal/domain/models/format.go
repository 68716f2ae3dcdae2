package models

import (
	"fmt"
	"path"
	"strings"
)

// Format enumerates the supported on-disk serializations.
type Format string

const (
	FormatCSV Format = "csv"
	FormatXML Format = "xml"
)

// ParseFormat validates a configured format name.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatXML:
		return FormatXML, nil
	default:
		return "", fmt.Errorf("unsupported file format %q", value)
	}
}

// FormatFromFilename dispatches on the file extension (case-insensitive).
func FormatFromFilename(name string) (Format, bool) {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv":
		return FormatCSV, true
	case ".xml":
		return FormatXML, true
	default:
		return "", false
	}
}

// Extension returns the file extension including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}
