// Package rels parses OOXML relationship XML files (.rels).
//
// It exists to eliminate duplicated parseRelsXML / xmlRelationships code
// across opc/ and workbook/, which cannot share the code directly due to
// the import graph.
package rels

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Relationships is the root element of a .rels XML document.
type Relationships struct {
	Relationships []Relationship `xml:"Relationship"`
}

// Relationship is one entry in a .rels XML document.
type Relationship struct {
	ID     string `xml:"Id,attr"`
	Type   string `xml:"Type,attr"`
	Target string `xml:"Target,attr"`
}

// Parse parses the raw bytes of a .rels XML file.
func Parse(data []byte) (Relationships, error) {
	var r Relationships
	if err := xml.Unmarshal(data, &r); err != nil {
		return Relationships{}, fmt.Errorf("parse rels XML: %w", err)
	}
	return r, nil
}

// ParseRelsXML parses the raw bytes of a .rels XML file and returns a map of
// relationship ID -> target string.
func ParseRelsXML(data []byte) (map[string]string, error) {
	r, err := Parse(data)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(r.Relationships))
	for _, rel := range r.Relationships {
		m[rel.ID] = rel.Target
	}
	return m, nil
}

// FindByTypeSubstring returns the target of the first relationship whose
// Type URI contains substr, and true if one was found. OPC package parsing
// uses this to locate the main document part without hard-coding the exact
// relationship-type URI string.
func (r Relationships) FindByTypeSubstring(substr string) (string, bool) {
	for _, rel := range r.Relationships {
		if strings.Contains(rel.Type, substr) {
			return rel.Target, true
		}
	}
	return "", false
}
