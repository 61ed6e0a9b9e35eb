package domain

import "time"

// LevelSummary is the published view of one FloodLevel; rasters are left out.
type LevelSummary struct {
	Threshold             float64 `json:"threshold_m"`
	DroneValidCells       int     `json:"drone_valid_cells"`
	DroneTotalCells       int     `json:"drone_total_cells"`
	DroneInundatedArea    float64 `json:"drone_inundated_area_m2"`
	AirborneValidCells    int     `json:"airborne_valid_cells"`
	AirborneTotalCells    int     `json:"airborne_total_cells"`
	AirborneInundatedArea float64 `json:"airborne_inundated_area_m2"`
}

// FloodSummary is the per-site record published after a run.
type FloodSummary struct {
	RunID       string         `json:"run_id"`
	Site        string         `json:"site"`
	DroneREM    string         `json:"drone_rem_path"`
	AirborneREM string         `json:"airborne_rem_path"`
	FloodGIF    string         `json:"flood_gif_path,omitempty"`
	Levels      []LevelSummary `json:"levels"`
	ProcessedAt time.Time      `json:"processed_at"`
}

// Summarize flattens sweep results for publishing, stamping them with the
// current time.
func Summarize(runID, site string, levels []FloodLevel) FloodSummary {
	out := FloodSummary{
		RunID:       runID,
		Site:        site,
		Levels:      make([]LevelSummary, len(levels)),
		ProcessedAt: Now(),
	}
	for i, l := range levels {
		out.Levels[i] = LevelSummary{
			Threshold:             l.Threshold,
			DroneValidCells:       l.Drone.ValidCount,
			DroneTotalCells:       l.Drone.TotalCount,
			DroneInundatedArea:    l.Drone.InundatedArea,
			AirborneValidCells:    l.Airborne.ValidCount,
			AirborneTotalCells:    l.Airborne.TotalCount,
			AirborneInundatedArea: l.Airborne.InundatedArea,
		}
	}
	return out
}
