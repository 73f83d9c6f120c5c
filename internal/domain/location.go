package domain

import (
	"net/url"
	"strings"
)

// MapSearchURL is the map search endpoint that MapLink appends the location to.
const MapSearchURL = "https://www.google.com/maps/search/?api=1&query="

// NormalizeLocation upper-cases a feed location and spells out intersections:
// "5th Ave/Pine St" becomes "5TH AVE AND PINE ST".
func NormalizeLocation(raw string) string {
	s := strings.ReplaceAll(raw, "/", " and ")
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// MapLink returns a map search URL for location. The location is not
// validated or geocoded.
func MapLink(location string) string {
	return MapSearchURL + strings.ReplaceAll(url.QueryEscape(location), "+", "%20")
}
