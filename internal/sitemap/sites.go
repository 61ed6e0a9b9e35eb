// Package sitemap builds the overview maps of the survey sites within their
// watershed: a static PNG and an interactive Leaflet page.
package sitemap

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// displayNames maps the ground control point labels in the coordinate table
// to the names shown on the maps.
var displayNames = map[string]string{
	"AV GCP1":   "Apple Valley North",
	"HW93 GCP1": "Highway 93",
	"LEG1-GCP1": "Legacy 1",
	"VV GCP1":   "Van Vleet",
	"HM":        "Hall Meadows",
}

// Site is one representative survey point.
type Site struct {
	Name    string
	Display string
	Lat     float64
	Lon     float64
}

// DisplayName returns the map label for a coordinate-table name, falling
// back to the name itself.
func DisplayName(name string) string {
	if d, ok := displayNames[name]; ok {
		return d
	}
	return name
}

// ParseSites reads a name,lat,lon table and returns the rows at the given
// indices. Negative indices count from the end, so -1 is the last row.
func ParseSites(r io.Reader, rows []int) ([]Site, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read site header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, want := range []string{"name", "lat", "lon"} {
		if _, ok := col[want]; !ok {
			return nil, fmt.Errorf("site table has no %q column", want)
		}
	}

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read site rows: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("site table is empty")
	}

	sites := make([]Site, 0, len(rows))
	for _, idx := range rows {
		i := idx
		if i < 0 {
			i += len(records)
		}
		if i < 0 || i >= len(records) {
			return nil, fmt.Errorf("site row %d out of range (%d rows)", idx, len(records))
		}
		rec := records[i]
		lat, err := strconv.ParseFloat(strings.TrimSpace(rec[col["lat"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("site row %d lat: %w", idx, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(rec[col["lon"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("site row %d lon: %w", idx, err)
		}
		name := strings.TrimSpace(rec[col["name"]])
		sites = append(sites, Site{Name: name, Display: DisplayName(name), Lat: lat, Lon: lon})
	}
	return sites, nil
}
