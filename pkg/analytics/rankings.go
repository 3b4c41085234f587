package analytics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Strategy selects how modules are scored for ranking.
type Strategy string

const (
	// StrategyRisk weighs churn by uncovered code.
	StrategyRisk Strategy = "risk"
	// StrategyChurn ranks by change frequency alone.
	StrategyChurn Strategy = "churn"
	// StrategyCoverage ranks by coverage gap alone.
	StrategyCoverage Strategy = "coverage"
)

// ParseStrategy validates a strategy name. Empty means risk.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case "":
		return StrategyRisk, nil
	case StrategyRisk, StrategyChurn, StrategyCoverage:
		return Strategy(name), nil
	default:
		return "", fmt.Errorf("unknown ranking strategy %q (expected risk, churn or coverage)", name)
	}
}

// Ranking is one scored module in a rankings response.
type Ranking struct {
	Rank           int     `json:"rank"`
	Path           string  `json:"path"`
	Score          float64 `json:"score"`
	Churn          float64 `json:"churn"`
	Coverage       float64 `json:"coverage"`
	UncoveredLines int     `json:"uncovered_lines"`
	Rationale      string  `json:"rationale"`
	Synthetic      bool    `json:"synthetic,omitempty"`
}

// moduleSignal is the merged per-module view of the signal sources.
type moduleSignal struct {
	Path           string
	Churn          float64
	Coverage       float64
	UncoveredLines int
}

// churn.json maps module path to change-frequency records.
type churnRecord struct {
	Churn   float64 `json:"churn"`
	Changes int     `json:"changes"`
}

// coverage.json maps module path to coverage records.
type coverageRecord struct {
	Coverage       float64 `json:"coverage"`
	UncoveredLines int     `json:"uncovered_lines"`
}

// Ranker derives rankings from signal files under SourcesDir. Modules at
// or above the coverage threshold are considered healthy and excluded.
type Ranker struct {
	SourcesDir        string
	CoverageThreshold float64
}

// Configured reports whether real signal sources are available.
func (r *Ranker) Configured() bool {
	if r.SourcesDir == "" {
		return false
	}
	if _, err := os.Stat(filepath.Join(r.SourcesDir, "churn.json")); err != nil {
		return false
	}
	return true
}

// Rank loads the signal sources and returns up to limit rankings under
// the requested strategy.
func (r *Ranker) Rank(strategy Strategy, limit int) ([]Ranking, error) {
	signals, err := r.loadSignals()
	if err != nil {
		return nil, err
	}

	candidates := make([]moduleSignal, 0, len(signals))
	for _, signal := range signals {
		if signal.Coverage >= r.CoverageThreshold {
			continue
		}
		candidates = append(candidates, signal)
	}

	sort.Slice(candidates, func(i, j int) bool {
		si, sj := score(strategy, candidates[i]), score(strategy, candidates[j])
		if si != sj {
			return si > sj
		}
		return candidates[i].Path < candidates[j].Path
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	rankings := make([]Ranking, 0, len(candidates))
	for i, signal := range candidates {
		rankings = append(rankings, Ranking{
			Rank:           i + 1,
			Path:           signal.Path,
			Score:          score(strategy, signal),
			Churn:          signal.Churn,
			Coverage:       signal.Coverage,
			UncoveredLines: signal.UncoveredLines,
			Rationale: fmt.Sprintf("churn %.1f with %d uncovered lines (coverage %.0f%%)",
				signal.Churn, signal.UncoveredOrZero(), signal.Coverage*100),
		})
	}
	return rankings, nil
}

// UncoveredOrZero guards against negative counts from malformed inputs.
func (m moduleSignal) UncoveredOrZero() int {
	if m.UncoveredLines < 0 {
		return 0
	}
	return m.UncoveredLines
}

func score(strategy Strategy, signal moduleSignal) float64 {
	gap := 1 - signal.Coverage
	if gap < 0 {
		gap = 0
	}
	switch strategy {
	case StrategyChurn:
		return signal.Churn
	case StrategyCoverage:
		return gap
	default:
		return signal.Churn * gap
	}
}

func (r *Ranker) loadSignals() (map[string]moduleSignal, error) {
	churn := map[string]churnRecord{}
	if err := readJSON(filepath.Join(r.SourcesDir, "churn.json"), &churn); err != nil {
		return nil, err
	}
	coverage := map[string]coverageRecord{}
	coveragePath := filepath.Join(r.SourcesDir, "coverage.json")
	if _, err := os.Stat(coveragePath); err == nil {
		if err := readJSON(coveragePath, &coverage); err != nil {
			return nil, err
		}
	}

	signals := make(map[string]moduleSignal, len(churn))
	for path, record := range churn {
		signal := moduleSignal{Path: path, Churn: record.Churn}
		if signal.Churn == 0 && record.Changes > 0 {
			signal.Churn = float64(record.Changes)
		}
		if cov, ok := coverage[path]; ok {
			signal.Coverage = cov.Coverage
			signal.UncoveredLines = cov.UncoveredLines
		}
		signals[path] = signal
	}
	// Modules with coverage data but no churn still count, at churn 0.
	for path, record := range coverage {
		if _, seen := signals[path]; seen {
			continue
		}
		signals[path] = moduleSignal{Path: path, Coverage: record.Coverage, UncoveredLines: record.UncoveredLines}
	}
	return signals, nil
}

func readJSON(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read analytics source %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("analytics source %s is not valid JSON: %w", path, err)
	}
	return nil
}
