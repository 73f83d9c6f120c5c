package domain

// Incident is one row of the dispatch feed after formatting.
type Incident struct {
	DateTime   string `json:"datetime"`
	IncidentID string `json:"incident_id"`
	Level      string `json:"level"`
	Units      string `json:"units"`
	Location   string `json:"location"`
	MapLink    string `json:"map_link"`
	Type       string `json:"type"`
}
