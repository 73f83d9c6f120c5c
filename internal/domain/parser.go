package domain

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// RowMarker is the substring that identifies the first line of an incident row.
const RowMarker = "onMouseOver='rowOn(row"

// maxLineSize bounds a single feed line read by ParseDocument.
const maxLineSize = 1 << 20

type parseState int

const (
	outsideRow parseState = iota
	expectDateTime
	expectID
	expectLevel
	expectUnits
	expectLocation
	expectType
)

// field names the incident field a state collects, for error messages.
func (s parseState) field() string {
	switch s {
	case expectDateTime:
		return "datetime"
	case expectID:
		return "incident_id"
	case expectLevel:
		return "level"
	case expectUnits:
		return "units"
	case expectLocation:
		return "location"
	case expectType:
		return "type"
	default:
		return ""
	}
}

// ParseOptions carries optional diagnostic hooks for ParseIncidents.
type ParseOptions struct {
	// OnUnknownUnit is called for every unit code with an unrecognized prefix.
	OnUnknownUnit func(token string)
}

// ParseIncidents walks the lines of a feed document and returns one Incident
// per row, in the order the rows appear. A row is only emitted after all six
// of its cells have been read. If any cell line is malformed the whole
// document is rejected and no incidents are returned.
func ParseIncidents(lines []string, opts ParseOptions) ([]Incident, error) {
	var (
		state     = outsideRow
		incidents []Incident
		curr      Incident
	)

	for i, line := range lines {
		if state == outsideRow {
			if strings.Contains(line, RowMarker) {
				curr = Incident{}
				state = expectDateTime
			}
			continue
		}

		cell, err := ExtractCell(line)
		if err != nil {
			var fe *FormatError
			if errors.As(err, &fe) {
				fe.Line = i + 1
				fe.Field = state.field()
			}
			return nil, err
		}

		switch state {
		case expectDateTime:
			curr.DateTime = cell
			state = expectID
		case expectID:
			curr.IncidentID = cell
			state = expectLevel
		case expectLevel:
			curr.Level = cell
			state = expectUnits
		case expectUnits:
			curr.Units = SummarizeUnits(cell, opts.OnUnknownUnit)
			state = expectLocation
		case expectLocation:
			curr.Location = NormalizeLocation(cell)
			curr.MapLink = MapLink(curr.Location)
			state = expectType
		case expectType:
			curr.Type = cell
			incidents = append(incidents, curr)
			state = outsideRow
		default:
			return nil, &InternalError{State: state}
		}
	}

	return incidents, nil
}

// ParseDocument splits r into lines and parses them with ParseIncidents.
func ParseDocument(r io.Reader, opts ParseOptions) ([]Incident, error) {
	lines, err := SplitLines(r)
	if err != nil {
		return nil, err
	}
	return ParseIncidents(lines, opts)
}

// SplitLines reads r to the end and returns its lines without terminators.
// Both "\n" and "\r\n" endings are accepted.
func SplitLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return lines, nil
}
