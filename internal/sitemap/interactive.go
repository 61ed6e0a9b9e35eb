package sitemap

import (
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Map centre (Boulder) and zoom of the interactive page.
var (
	mapCenter = [2]float64{40.0150, -105.2705}
	mapZoom   = 10
)

var pageTmpl = template.Must(template.New("sitemap").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css">
<script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
<style>html, body, #map { height: 100%; margin: 0; }</style>
</head>
<body>
<div id="map"></div>
<script>
var map = L.map("map").setView([{{index .Center 0}}, {{index .Center 1}}], {{.Zoom}});
L.tileLayer({{.TileURL}}, {maxZoom: 18}).addTo(map);
var watershed = L.geoJSON({{.Watershed}}).addTo(map);
var streams = L.geoJSON({{.Streams}}, {style: function () { return {color: "blue", opacity: 0.3, weight: 2}; }}).addTo(map);
{{.Sites}}.forEach(function (s) {
  L.circleMarker([s.lat, s.lon], {color: "darkgreen", fillColor: "darkgreen", fillOpacity: 0.9, radius: 8})
    .bindPopup(s.display).addTo(map);
});
L.control.layers(null, {"St. Vrain Watershed": watershed, "St. Vrain Streams": streams}).addTo(map);
</script>
</body>
</html>
`))

type pageData struct {
	Title     string
	Center    [2]float64
	Zoom      int
	TileURL   string
	Watershed template.JS
	Streams   template.JS
	Sites     template.JS
}

type siteJSON struct {
	Name    string  `json:"name"`
	Display string  `json:"display"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// RenderInteractive writes a Leaflet page showing the watershed and stream
// layers with a popup marker per site.
func RenderInteractive(path, tileURL string, watershed orb.MultiPolygon, streams orb.MultiLineString, sites []Site) error {
	wfc := geojson.NewFeatureCollection()
	for _, poly := range watershed {
		f := geojson.NewFeature(poly)
		f.Properties["name"] = "St. Vrain Watershed"
		wfc.Append(f)
	}
	sfc := geojson.NewFeatureCollection()
	for _, ls := range streams {
		sfc.Append(geojson.NewFeature(ls))
	}
	wjs, err := wfc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode watershed: %w", err)
	}
	sjs, err := sfc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode streams: %w", err)
	}
	points := make([]siteJSON, len(sites))
	for i, s := range sites {
		points[i] = siteJSON{Name: s.Name, Display: s.Display, Lat: s.Lat, Lon: s.Lon}
	}
	pjs, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("encode sites: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = pageTmpl.Execute(f, pageData{
		Title:     staticTitle,
		Center:    mapCenter,
		Zoom:      mapZoom,
		TileURL:   tileURL,
		Watershed: template.JS(wjs),
		Streams:   template.JS(sjs),
		Sites:     template.JS(pjs),
	})
	if err != nil {
		f.Close()
		return fmt.Errorf("render site map page: %w", err)
	}
	return f.Close()
}
