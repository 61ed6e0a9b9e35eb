// Package domain models the terrain rasters, boundaries and flood results of
// the watershed relative-elevation pipeline.
//
// # Data Sources
//
// Each site has two bare-ground terrain models (DTMs):
//
//	Drone (UAV) DTM:     GeoTIFF from photogrammetry, ~2 cm cells, already in
//	                     EPSG:4326. Published on Zenodo record 8218054 as
//	                     "<site>_uav_dtm.tif". A precomputed drone REM sits
//	                     beside it as "<site>_uav_rem.tif".
//	Airborne (LiDAR) DTM: zip holding "<site>_lidar/<site>_lidar.asc" (ArcGIS
//	                     ASCII grid) plus a ".prj" sidecar. 2.5 ft (0.762 m)
//	                     cells in a projected CRS; reprojected to EPSG:4326
//	                     before clipping.
//
// Site boundaries come from a single "shapefiles.zip" bundle with one
// "<site>_bounding_polygon/Bounding_Polygon.shp" per site.
//
// # Raster Conventions
//
// A [Raster] is a north-up grid stored row-major. Row 0 is the northern edge.
// Nodata is NaN in memory regardless of the sentinel the file format uses;
// codecs translate at the boundary. Cell (r, c) covers
//
//	x in [West + c*CellWidth,  West + (c+1)*CellWidth)
//	y in (North - (r+1)*CellHeight, North - r*CellHeight]
//
// and is "inside" a polygon when its centre is.
//
// # Flood Inundation
//
// A relative elevation model (REM) expresses height above the fitted river
// water surface. For a water level t, cells with REM > t stay dry (kept);
// every other cell, including cells that were already nodata, counts as
// inundated:
//
//	area(t) = (total cells - cells with REM > t) * GSD²
//
// The ground sample distance (GSD) is configured per source. Because the set of
// cells above t shrinks as t grows, area(t) never decreases along an ascending
// threshold sequence.
//
// # Caching
//
// Every stage persists its artifact on disk under a deterministic path (see
// [Layout]) and skips work when the artifact exists. REM outputs are
// additionally keyed on a SHA-256 fingerprint of the input raster and REM
// parameters (see [Fingerprint]) so a changed input is recomputed even when the
// output filename is unchanged.
package domain
