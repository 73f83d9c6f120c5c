package domain

import (
	"fmt"
	"strings"
)

// FormatStatus renders the social post announcing an incident.
func FormatStatus(incident Incident, hashtag string) string {
	return fmt.Sprintf("%s dispatched to %s, %s.\n\nType: %s\n\n%s",
		incident.Units, incident.Location, hashtag, incident.Type, incident.MapLink)
}

// PendingIncidents returns the incidents that have not been announced yet,
// oldest first. incidents must be in feed order (newest first); the walk stops
// at the first incident whose units and location both appear in lastStatus.
func PendingIncidents(incidents []Incident, lastStatus string) []Incident {
	var pending []Incident
	for _, incident := range incidents {
		if lastStatus != "" && announcedIn(incident, lastStatus) {
			break
		}
		pending = append(pending, incident)
	}
	for i, j := 0, len(pending)-1; i < j; i, j = i+1, j-1 {
		pending[i], pending[j] = pending[j], pending[i]
	}
	return pending
}

func announcedIn(incident Incident, status string) bool {
	return strings.Contains(status, incident.Units) && strings.Contains(status, incident.Location)
}
