package domain

import (
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// MaxUnitsChars bounds the summed length of the unit clauses a summary may
// grow to before lower-priority unit types are folded into the trailing count.
const MaxUnitsChars = 100

// unitNames maps unit code prefixes to display names.
var unitNames = map[string]string{
	"A":     "Basic Life Support",
	"AIR":   "Air Unit",
	"B":     "Battalion Chief",
	"CHAP":  "Chaplain",
	"COMM":  "Communications Unit",
	"DECON": "Decontamination Unit",
	"DEP":   "Deputy Chief",
	"E":     "Engine",
	"FB":    "Fireboat",
	"FRB":   "Fire Rescue Boat",
	"HAZ":   "Hazmat Unit",
	"HOSE":  "Hose Wagon",
	"ICS":   "Incident Command",
	"L":     "Ladder",
	"M":     "Advanced Life Support",
	"MAR":   "Fire Marshal",
	"R":     "Technical Rescue",
	"REHAB": "Rehabilitation Unit",
	"SAFT":  "Safety Chief",
	"STAF":  "Support Unit",
}

// priorityUnits are always rendered, in this order, ahead of everything else.
var priorityUnits = []string{"E", "L", "M", "A"}

// UnitName returns the display name for a unit code prefix.
func UnitName(prefix string) (string, bool) {
	name, ok := unitNames[prefix]
	return name, ok
}

// SummarizeUnits renders a raw units cell such as "E25 L5 M31 STAF92" as an
// English phrase. Engines, ladders and life support units are always named;
// other types are named in prefix order until the phrase would reach
// MaxUnitsChars, and the rest are summed into an "N other units" clause along
// with any unit codes that have an unknown prefix. onUnknown, when non-nil, is
// called with each unknown code.
func SummarizeUnits(raw string, onUnknown func(token string)) string {
	groups := make(map[string][]string)
	unaccounted := 0

	for _, token := range strings.Fields(raw) {
		prefix, suffix := splitUnitCode(token)
		if _, ok := unitNames[prefix]; !ok {
			unaccounted++
			if onUnknown != nil {
				onUnknown(token)
			}
			continue
		}
		groups[prefix] = append(groups[prefix], suffix)
	}

	var clauses []string
	length := 0

	for _, prefix := range priorityUnits {
		suffixes, ok := groups[prefix]
		if !ok {
			continue
		}
		clause := renderUnitGroup(prefix, suffixes)
		clauses = append(clauses, clause)
		length += len(clause)
		delete(groups, prefix)
	}

	rest := make([]string, 0, len(groups))
	for prefix := range groups {
		rest = append(rest, prefix)
	}
	sort.Strings(rest)

	for i, prefix := range rest {
		clause := renderUnitGroup(prefix, groups[prefix])
		if length+len(clause) >= MaxUnitsChars {
			for _, folded := range rest[i:] {
				unaccounted += len(groups[folded])
			}
			break
		}
		clauses = append(clauses, clause)
		length += len(clause)
	}

	if unaccounted > 0 {
		clauses = append(clauses, unaccountedClause(unaccounted, len(clauses) > 0))
	}

	return joinClauses(clauses)
}

// splitUnitCode splits a unit code into its leading non-digit prefix and the
// remainder.
func splitUnitCode(token string) (prefix, suffix string) {
	i := strings.IndexFunc(token, unicode.IsDigit)
	if i < 0 {
		return token, ""
	}
	return token[:i], token[i:]
}

func renderUnitGroup(prefix string, suffixes []string) string {
	sorted := append([]string(nil), suffixes...)
	sort.Strings(sorted)
	numbers := strings.Join(sorted, "/")
	if numbers == "" {
		return unitNames[prefix]
	}
	return unitNames[prefix] + " " + numbers
}

func unaccountedClause(n int, hasPrior bool) string {
	noun := "unit"
	if n != 1 {
		noun = "units"
	}
	if hasPrior {
		return strconv.Itoa(n) + " other " + noun
	}
	return strconv.Itoa(n) + " " + noun
}

// joinClauses joins clauses as an English list with a serial comma.
func joinClauses(clauses []string) string {
	switch len(clauses) {
	case 0:
		return ""
	case 1:
		return clauses[0]
	case 2:
		return clauses[0] + " and " + clauses[1]
	default:
		last := len(clauses) - 1
		return strings.Join(clauses[:last], ", ") + ", and " + clauses[last]
	}
}
