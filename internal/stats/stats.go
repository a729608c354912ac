// Package stats derives dashboard statistics and issue badges from the
// current set of datasets. Every function here is pure.
package stats

import (
	"fmt"

	"github.com/JakeFAU/dataqual/internal/dataqual"
)

// Summary is the dashboard-level aggregate over all datasets.
type Summary struct {
	Total          int     `json:"total"`
	Analyzed       int     `json:"analyzed"`
	Cleaned        int     `json:"cleaned"`
	AverageQuality float64 `json:"average_quality"`
}

// Aggregate computes counts by status and the mean quality score. A
// missing score counts as zero; an empty input yields a zero Summary.
func Aggregate(datasets []dataqual.Dataset) Summary {
	s := Summary{Total: len(datasets)}
	if s.Total == 0 {
		return s
	}
	var sum float64
	for _, ds := range datasets {
		switch ds.Status {
		case dataqual.DatasetAnalyzed:
			s.Analyzed++
		case dataqual.DatasetCleaned:
			s.Cleaned++
		}
		if ds.QualityScore != nil {
			sum += *ds.QualityScore
		}
	}
	s.AverageQuality = sum / float64(s.Total)
	if s.AverageQuality < 0 {
		s.AverageQuality = 0
	}
	if s.AverageQuality > 100 {
		s.AverageQuality = 100
	}
	return s
}

// BadgeKind identifies an issue category.
type BadgeKind string

// Badge kinds, in display order.
const (
	BadgeMissing    BadgeKind = "missing"
	BadgeDuplicates BadgeKind = "duplicates"
	BadgeOutliers   BadgeKind = "outliers"
	BadgeNoIssues   BadgeKind = "no_issues"
)

// Badge is a short derived indicator summarizing one issue category.
type Badge struct {
	Kind  BadgeKind `json:"kind"`
	Label string    `json:"label"`
	Count int       `json:"count"`
}

// Badges derives issue badges from an analysis result. Order is fixed:
// missing, duplicates, outliers. A badge is emitted only for a strictly
// positive count; when no category has issues a single no-issues badge is
// emitted instead.
func Badges(res *dataqual.AnalysisResult) []Badge {
	if res == nil {
		return nil
	}
	var badges []Badge
	if n := res.MissingData.TotalMissing; n > 0 {
		badges = append(badges, Badge{
			Kind:  BadgeMissing,
			Label: fmt.Sprintf("%d Missing Values", n),
			Count: n,
		})
	}
	if n := res.Duplicates.ExactDuplicates; n > 0 {
		badges = append(badges, Badge{
			Kind:  BadgeDuplicates,
			Label: fmt.Sprintf("%d Duplicates", n),
			Count: n,
		})
	}
	if n := res.Outliers.Combined.TotalOutliers; n > 0 {
		badges = append(badges, Badge{
			Kind:  BadgeOutliers,
			Label: fmt.Sprintf("%d Outliers", n),
			Count: n,
		})
	}
	if len(badges) == 0 {
		badges = append(badges, Badge{Kind: BadgeNoIssues, Label: "No Issues"})
	}
	return badges
}

// LatestActionable returns the first dataset, in the given order, whose
// status is analyzed or cleaned.
func LatestActionable(datasets []dataqual.Dataset) (dataqual.Dataset, bool) {
	for _, ds := range datasets {
		if ds.Status == dataqual.DatasetAnalyzed || ds.Status == dataqual.DatasetCleaned {
			return ds, true
		}
	}
	return dataqual.Dataset{}, false
}
