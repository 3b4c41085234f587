package analytics

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
)

// Hotspot is a deterministic attention record for a module path.
type Hotspot struct {
	Path      string  `json:"path"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
	Synthetic bool    `json:"synthetic,omitempty"`
}

// LoadHotspots reads hotspot records from a JSON settings file. A
// missing file returns nil without error so callers can fall back to
// synthetic records.
func LoadHotspots(path string, limit int) ([]Hotspot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read hotspot settings: %w", err)
	}
	var hotspots []Hotspot
	if err := json.Unmarshal(raw, &hotspots); err != nil {
		return nil, fmt.Errorf("hotspot settings are not valid JSON: %w", err)
	}
	sort.SliceStable(hotspots, func(i, j int) bool { return hotspots[i].Score > hotspots[j].Score })
	if limit > 0 && len(hotspots) > limit {
		hotspots = hotspots[:limit]
	}
	return hotspots, nil
}

// syntheticPaths are plausible module locations used when no real
// analytics data is configured.
var syntheticPaths = []string{
	"src/core/engine",
	"src/core/scheduler",
	"src/api/handlers",
	"src/api/validation",
	"src/plugins/loader",
	"src/cleanup/walker",
	"src/analytics/pipeline",
	"src/auth/tokens",
}

// SyntheticHotspots derives deterministic placeholder records from a
// seed, for installations without configured analytics sources. The
// records are stable for a given seed and clearly marked synthetic.
func SyntheticHotspots(seed string, limit int) []Hotspot {
	hotspots := make([]Hotspot, 0, len(syntheticPaths))
	for _, path := range syntheticPaths {
		h := fnv.New32a()
		h.Write([]byte(seed))
		h.Write([]byte(path))
		score := float64(h.Sum32()%1000) / 1000
		hotspots = append(hotspots, Hotspot{
			Path:      path,
			Score:     score,
			Reason:    "synthetic hotspot derived from repository settings; configure analytics sources for real data",
			Synthetic: true,
		})
	}
	sort.SliceStable(hotspots, func(i, j int) bool {
		if hotspots[i].Score != hotspots[j].Score {
			return hotspots[i].Score > hotspots[j].Score
		}
		return hotspots[i].Path < hotspots[j].Path
	})
	if limit > 0 && len(hotspots) > limit {
		hotspots = hotspots[:limit]
	}
	return hotspots
}

// SyntheticRankings adapts synthetic hotspots into the rankings shape.
func SyntheticRankings(seed string, limit int) []Ranking {
	hotspots := SyntheticHotspots(seed, limit)
	rankings := make([]Ranking, 0, len(hotspots))
	for i, hotspot := range hotspots {
		rankings = append(rankings, Ranking{
			Rank:      i + 1,
			Path:      hotspot.Path,
			Score:     hotspot.Score,
			Rationale: hotspot.Reason,
			Synthetic: true,
		})
	}
	return rankings
}
