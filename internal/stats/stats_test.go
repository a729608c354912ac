package stats

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dataqual/internal/dataqual"
)

func score(v float64) *float64 {
	return &v
}

func TestAggregate_EmptyYieldsZeroSummary(t *testing.T) {
	t.Parallel()

	require.Equal(t, Summary{}, Aggregate(nil))
	require.Equal(t, Summary{}, Aggregate([]dataqual.Dataset{}))
}

func TestAggregate_CountsAndMean(t *testing.T) {
	t.Parallel()

	datasets := []dataqual.Dataset{
		{ID: 1, Status: dataqual.DatasetAnalyzed, QualityScore: score(80)},
		{ID: 2, Status: dataqual.DatasetCleaned, QualityScore: score(90)},
		{ID: 3, Status: dataqual.DatasetUploaded}, // no score yet, counts as 0
		{ID: 4, Status: dataqual.DatasetFailed, QualityScore: score(10)},
	}

	got := Aggregate(datasets)
	require.Equal(t, 4, got.Total)
	require.Equal(t, 1, got.Analyzed)
	require.Equal(t, 1, got.Cleaned)
	require.InDelta(t, 45.0, got.AverageQuality, 0.001)
}

func TestAggregate_OverlayStatusesAreNotAnalyzed(t *testing.T) {
	t.Parallel()

	datasets := []dataqual.Dataset{
		{ID: 1, Status: dataqual.DatasetAnalyzing},
		{ID: 2, Status: dataqual.DatasetCleaning},
	}
	got := Aggregate(datasets)
	require.Equal(t, 2, got.Total)
	require.Zero(t, got.Analyzed)
	require.Zero(t, got.Cleaned)
}

func TestBadges_FixedOrderAndPositiveCountsOnly(t *testing.T) {
	t.Parallel()

	res := &dataqual.AnalysisResult{
		MissingData: dataqual.MissingData{TotalMissing: 12},
		Outliers: dataqual.Outliers{
			Combined: dataqual.CombinedOutliers{TotalOutliers: 3},
		},
	}

	got := Badges(res)
	require.Len(t, got, 2)
	require.Equal(t, "12 Missing Values", got[0].Label)
	require.Equal(t, "3 Outliers", got[1].Label)
}

func TestBadges_AllCategories(t *testing.T) {
	t.Parallel()

	res := &dataqual.AnalysisResult{
		MissingData: dataqual.MissingData{TotalMissing: 5},
		Duplicates:  dataqual.Duplicates{ExactDuplicates: 2},
		Outliers: dataqual.Outliers{
			Combined: dataqual.CombinedOutliers{TotalOutliers: 7},
		},
	}

	got := Badges(res)
	require.Len(t, got, 3)
	require.Equal(t, BadgeMissing, got[0].Kind)
	require.Equal(t, BadgeDuplicates, got[1].Kind)
	require.Equal(t, BadgeOutliers, got[2].Kind)
}

func TestBadges_NoIssuesFallback(t *testing.T) {
	t.Parallel()

	got := Badges(&dataqual.AnalysisResult{QualityScore: 100})
	require.Len(t, got, 1)
	require.Equal(t, BadgeNoIssues, got[0].Kind)
	require.Equal(t, "No Issues", got[0].Label)

	require.Nil(t, Badges(nil))
}

func TestLatestActionable(t *testing.T) {
	t.Parallel()

	datasets := []dataqual.Dataset{
		{ID: 9, Status: dataqual.DatasetUploaded},
		{ID: 7, Status: dataqual.DatasetAnalyzed},
		{ID: 5, Status: dataqual.DatasetCleaned},
	}
	got, ok := LatestActionable(datasets)
	require.True(t, ok)
	require.Equal(t, int64(7), got.ID)

	_, ok = LatestActionable([]dataqual.Dataset{{ID: 1, Status: dataqual.DatasetUploaded}})
	require.False(t, ok)
}
