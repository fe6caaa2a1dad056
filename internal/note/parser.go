// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package note

import (
	"fmt"
	"strings"
)

// Parse error kinds
const (
	ErrMissingEnd       = "missing_end"
	ErrMissingStart     = "missing_start"
	ErrInvalidNesting   = "invalid_nesting"
	ErrDuplicateSection = "duplicate_section"
)

// ParseError is one structural problem found while scanning markers
type ParseError struct {
	Kind string
	Name string
	Line int // 1-based line of the offending marker (the unclosed START marker for missing_end)
}

// Error implements the error interface
func (e ParseError) Error() string {
	return fmt.Sprintf("%s: section %s at line %d", e.Kind, e.Name, e.Line)
}

// ParseErrors aggregates the problems of one strict parse
type ParseErrors struct {
	Errors []ParseError
}

// Error implements the error interface
func (e *ParseErrors) Error() string {
	parts := make([]string, len(e.Errors))
	for i, pe := range e.Errors {
		parts[i] = pe.Error()
	}
	return "note markers corrupted: " + strings.Join(parts, "; ")
}

// Section is one marker-delimited region of a document
type Section struct {
	Name  string
	Body  string // text between the markers, trimmed
	Flags []string

	StartLine int // 1-based line of the START marker
	EndLine   int // 1-based line of the END marker
	BodyStart int // byte offset just past the START marker line's newline
	BodyEnd   int // byte offset of the END marker line's first byte
}

// HasFlag reports whether the section carries a flag
func (s *Section) HasFlag(flag string) bool {
	for _, f := range s.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Parse scans a document for marker pairs, collecting sections and structural
// errors without failing. Sections are returned in document order.
func Parse(content string) ([]Section, []ParseError) {
	var sections []Section
	var errs []ParseError

	type openSection struct {
		section Section
	}
	open := make(map[string]*openSection)
	seen := make(map[string]bool)

	offset := 0
	lineNo := 0
	rest := content
	for len(rest) > 0 {
		lineNo++
		line := rest
		advance := len(rest)
		if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
			line = rest[:idx]
			advance = idx + 1
		}

		if name, flags, ok := matchStartMarker(line); ok {
			if open[name] != nil {
				errs = append(errs, ParseError{Kind: ErrInvalidNesting, Name: name, Line: lineNo})
			} else if seen[name] {
				errs = append(errs, ParseError{Kind: ErrDuplicateSection, Name: name, Line: lineNo})
			} else {
				open[name] = &openSection{section: Section{
					Name:      name,
					Flags:     flags,
					StartLine: lineNo,
					BodyStart: offset + advance,
				}}
			}
		} else if name, ok := matchEndMarker(line); ok {
			if o := open[name]; o != nil {
				sec := o.section
				sec.EndLine = lineNo
				sec.BodyEnd = offset
				sec.Body = strings.TrimSpace(content[sec.BodyStart:sec.BodyEnd])
				sections = append(sections, sec)
				seen[name] = true
				delete(open, name)
			} else {
				errs = append(errs, ParseError{Kind: ErrMissingStart, Name: name, Line: lineNo})
			}
		}

		offset += advance
		rest = rest[advance:]
	}

	for name, o := range open {
		errs = append(errs, ParseError{Kind: ErrMissingEnd, Name: name, Line: o.section.StartLine})
	}

	return sections, errs
}

// ParseStrict fails when any structural errors were collected
func ParseStrict(content string) ([]Section, error) {
	sections, errs := Parse(content)
	if len(errs) > 0 {
		return nil, &ParseErrors{Errors: errs}
	}
	return sections, nil
}

// FindSection returns the parsed section with the given name
func FindSection(sections []Section, name string) (*Section, bool) {
	for i := range sections {
		if sections[i].Name == name {
			return &sections[i], true
		}
	}
	return nil, false
}
