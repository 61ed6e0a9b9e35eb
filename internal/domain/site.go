package domain

import (
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

// Source identifies which survey produced a raster.
type Source string

const (
	SourceDrone    Source = "drone"
	SourceAirborne Source = "airborne"
)

// EPSG4326 is the geographic CRS every clipped raster ends up in.
const EPSG4326 = "EPSG:4326"

// CachedResource pairs a remote URL with the local path it is cached at.
type CachedResource struct {
	URL      string
	Path     string
	Override bool // re-download even when Path exists
}

// Site is a named survey area and the remote rasters describing it.
type Site struct {
	Name            string
	DroneURL        string
	AirborneURL     string
	PublishedREMURL string // empty when the published drone REM is not wanted
}

// SiteTemplates builds per-site URLs. Each template uses "{site}" as the
// placeholder for the escaped site name.
type SiteTemplates struct {
	Drone        string
	Airborne     string
	PublishedREM string
}

// Site expands the templates for one site name.
func (t SiteTemplates) Site(name string) Site {
	return Site{
		Name:            name,
		DroneURL:        ExpandTemplate(t.Drone, name),
		AirborneURL:     ExpandTemplate(t.Airborne, name),
		PublishedREMURL: ExpandTemplate(t.PublishedREM, name),
	}
}

// ExpandTemplate substitutes the site name into a URL template.
func ExpandTemplate(tmpl, site string) string {
	if tmpl == "" {
		return ""
	}
	return strings.ReplaceAll(tmpl, "{site}", url.PathEscape(site))
}

// SiteRecord collects the artifacts attached to a site as it moves through
// the pipeline.
type SiteRecord struct {
	Site Site

	DronePath        string
	AirbornePath     string
	PublishedREMPath string

	Drone        *Raster
	Airborne     *Raster
	PublishedREM *Raster

	ClippedDronePath    string
	ClippedAirbornePath string
	ClippedDrone        *Raster
	ClippedAirborne     *Raster

	DroneREMPath    string
	AirborneREMPath string
	DroneREM        *Raster
	AirborneREM     *Raster

	Levels   []FloodLevel
	FloodGIF string
}

// Figures gathers the rasters a site's figures are drawn from.
func (r SiteRecord) Figures() FigureSet {
	return FigureSet{
		DroneDTM:     r.ClippedDrone,
		AirborneDTM:  r.ClippedAirborne,
		DroneREM:     r.DroneREM,
		AirborneREM:  r.AirborneREM,
		PublishedREM: r.PublishedREM,
		Levels:       r.Levels,
	}
}

// FigureSet is the input to per-site rendering. Nil rasters are skipped.
type FigureSet struct {
	DroneDTM     *Raster
	AirborneDTM  *Raster
	DroneREM     *Raster
	AirborneREM  *Raster
	PublishedREM *Raster
	Levels       []FloodLevel
}

// Layout derives every on-disk artifact path from a base directory. No
// component resolves paths against the process working directory.
type Layout struct {
	BaseDir string
}

func (l Layout) SiteDir(site string) string {
	return filepath.Join(l.BaseDir, site)
}

func (l Layout) DroneDTM(site string) string {
	return filepath.Join(l.SiteDir(site), site+"_dtm.tif")
}

func (l Layout) PublishedREM(site string) string {
	return filepath.Join(l.SiteDir(site), site+"_rem.tif")
}

func (l Layout) AirborneArchive(site string) string {
	return filepath.Join(l.SiteDir(site), site+"_lidar.zip")
}

// AirborneRaster is the canonical raster member inside the extracted LiDAR archive.
func (l Layout) AirborneRaster(site string) string {
	return AirborneMember(l.SiteDir(site), site)
}

// AirborneMember returns "<dir>/<site>_lidar/<site>_lidar.asc".
func AirborneMember(dir, site string) string {
	return filepath.Join(dir, site+"_lidar", site+"_lidar.asc")
}

func (l Layout) Clipped(site string, src Source) string {
	if src == SourceAirborne {
		return filepath.Join(l.SiteDir(site), site+"_lidar_clipped_dtm.tif")
	}
	return filepath.Join(l.SiteDir(site), site+"_clipped_dtm.tif")
}

func (l Layout) REMDir(site string, src Source) string {
	if src == SourceAirborne {
		return filepath.Join(l.SiteDir(site), "remmaker_lidar")
	}
	return filepath.Join(l.SiteDir(site), "remmaker")
}

// REMOutput is where the REM generator writes the relative elevation raster
// for the clipped input of src.
func (l Layout) REMOutput(site string, src Source) string {
	return filepath.Join(l.REMDir(site, src), stem(l.Clipped(site, src))+"_REM.tif")
}

// REMViz is the colormapped rendering the REM generator writes beside REMOutput.
func (l Layout) REMViz(site string, src Source) string {
	return filepath.Join(l.REMDir(site, src), stem(l.Clipped(site, src))+"_REM_viz.png")
}

func (l Layout) FiguresDir(site string) string {
	return filepath.Join(l.SiteDir(site), "figures")
}

func (l Layout) FrameDir(site string) string {
	return filepath.Join(l.BaseDir, site+"_gif")
}

// FramePath names the i-th flood frame of a site.
func (l Layout) FramePath(site string, i int) string {
	return filepath.Join(l.FrameDir(site), FrameName(site, i))
}

// FrameName is the file name of the i-th flood frame, "<site>_step_<i>.jpg".
func FrameName(site string, i int) string {
	return site + "_step_" + strconv.Itoa(i) + ".jpg"
}

// Figure names a rendered figure of a site, "<site>_<name>.png".
func (l Layout) Figure(site, name string) string {
	return filepath.Join(l.FiguresDir(site), site+"_"+name+".png")
}

func (l Layout) FloodGIF(site string) string {
	return filepath.Join(l.BaseDir, site+"_flood.gif")
}

func (l Layout) BoundaryArchive() string {
	return filepath.Join(l.BaseDir, "shapefiles.zip")
}

func (l Layout) BoundaryShapefile(site string) string {
	return filepath.Join(l.BaseDir, "shapefiles", site+"_bounding_polygon", "Bounding_Polygon.shp")
}

func (l Layout) Ledger() string {
	return filepath.Join(l.BaseDir, "ledger.db")
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
