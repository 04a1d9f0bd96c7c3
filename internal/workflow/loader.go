package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads, parses, and validates a workflow file.
//
// Format is chosen by extension (.json means JSON, .yaml/.yml means YAML)
// and by content sniffing otherwise: a document whose first non-space byte
// is '{' parses as JSON. Both decoders reject unknown fields so a typoed
// key fails loudly instead of silently dropping a stage setting.
func Load(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	doc, err := Parse(b, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", filepath.Base(path), err)
	}
	return doc, nil
}

// Parse decodes workflow bytes. ext, when non-empty, forces the format.
func Parse(b []byte, ext string) (*Document, error) {
	var doc Document
	var err error
	if isJSON(b, ext) {
		err = parseJSON(b, &doc)
	} else {
		err = parseYAML(b, &doc)
	}
	if err != nil {
		return nil, &SchemaError{Message: err.Error()}
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func isJSON(b []byte, ext string) bool {
	switch strings.ToLower(ext) {
	case ".json":
		return true
	case ".yaml", ".yml":
		return false
	}
	trimmed := bytes.TrimLeft(b, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func parseJSON(b []byte, doc *Document) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(doc); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("parse json: trailing content")
	}
	return nil
}

func parseYAML(b []byte, doc *Document) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(doc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}
