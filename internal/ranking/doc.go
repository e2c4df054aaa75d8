// Package ranking computes the relevance score of a content item for a
// viewer. The score is a deterministic, explainable heuristic:
//
//	composite = popularity*0.3 + personalization*0.4 + quality*0.2 + proximity*0.1
//	final     = composite * tierMultiplier * (0.5 + 0.5*exp(-daysOld/30))
//
// Basic Usage:
//
//	cal, err := ranking.LoadCalibration("configs/ranking.calibration.json")
//	if err != nil {
//		slog.Warn("using default calibration", "error", err)
//	}
//	scorer := ranking.NewScorer(cal, ranking.SystemClock{})
//	score := scorer.Score(&item, viewer)
//
// Sub-score functions (PopularityScore, PersonalizationScore, QualityScore,
// ProximityScore) are exported so callers and tests can inspect individual
// components; Explain returns all of them for a single item.
//
// Calibration:
//
// Weights, tier multipliers and the freshness decay constant can be tuned
// via a JSON file loaded at startup. Partial files are merged over the
// defaults. See configs/ranking.calibration.json.
package ranking
