package dataqual

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShape_MarshalsAsArray(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Shape{Rows: 150, Columns: 5})
	require.NoError(t, err)
	require.JSONEq(t, `[150,5]`, string(b))
}

func TestShape_UnmarshalAcceptsArrayAndNull(t *testing.T) {
	t.Parallel()

	var s Shape
	require.NoError(t, json.Unmarshal([]byte(`[150,5]`), &s))
	require.Equal(t, Shape{Rows: 150, Columns: 5}, s)

	require.NoError(t, json.Unmarshal([]byte(`null`), &s))
	require.Equal(t, Shape{}, s)
}

func TestShape_UnmarshalRejectsBadInput(t *testing.T) {
	t.Parallel()

	cases := []string{`[-1,5]`, `[1,-5]`, `{"rows":1}`, `"150x5"`}
	for _, raw := range cases {
		var s Shape
		require.Error(t, json.Unmarshal([]byte(raw), &s), "input %s", raw)
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	t.Parallel()

	require.True(t, JobStatusCompleted.Terminal())
	require.True(t, JobStatusFailed.Terminal())
	require.True(t, JobStatusCancelled.Terminal())
	require.False(t, JobStatusQueued.Terminal())
	require.False(t, JobStatusRunning.Terminal())

	require.True(t, JobStatusCompleted.Succeeded())
	require.False(t, JobStatusFailed.Succeeded())
}

func TestDatasetStatus_Local(t *testing.T) {
	t.Parallel()

	require.True(t, DatasetAnalyzing.Local())
	require.True(t, DatasetCleaning.Local())
	require.False(t, DatasetUploaded.Local())
	require.False(t, DatasetAnalyzed.Local())
	require.False(t, DatasetCleaned.Local())
	require.False(t, DatasetFailed.Local())
}
