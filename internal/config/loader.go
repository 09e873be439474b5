package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Load reads and parses a descriptor file at path. YAML is assumed unless
// the file has a .json extension.
// If path does not exist or is empty, it returns Default() with no errors.
// If the file is malformed, it returns nil config with a parse error.
// If validation fails, it returns nil config plus every validation error so
// startup can report all invalid fields at once.
func Load(path string) (*Descriptor, []error) {
	data, err := os.ReadFile(path)
	return parse(path, data, err)
}

// parse turns the result of reading path into a descriptor.
func parse(path string, data []byte, err error) (*Descriptor, []error) {
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, []error{fmt.Errorf("failed to read config file: %w", err)}
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return Default(), nil
	}

	d, err := Decode(data, FormatForPath(path))
	if err != nil {
		// A YAML file holding only comments decodes to nothing.
		if errors.Is(err, io.EOF) {
			return Default(), nil
		}
		return nil, []error{err}
	}

	if errs := Validate(d); len(errs) > 0 {
		return nil, errs
	}
	return d, nil
}

// FormatForPath picks the codec for a descriptor file by extension.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}
