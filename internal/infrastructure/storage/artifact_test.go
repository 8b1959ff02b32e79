package storage

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/diarco/connexa-sync/internal/domain/replenishment"
	"github.com/diarco/connexa-sync/internal/infrastructure/config"
)

func sampleNetted() (lines, dropped []replenishment.NettedLine) {
	rep := replenishment.PendingLine{CorrelationKey: "OC-1"}
	lines = []replenishment.NettedLine{{
		ConsolidatedLine: replenishment.ConsolidatedLine{
			SupplierCode:           "1001",
			ArticleCode:            "555",
			DestinationBranchID:    41,
			DistributionCenterCode: "41CD",
			RequestedQty:           decimal.NewFromInt(10),
			Representative:         rep,
			MemberKeys:             []string{"OC-1", "OC-2"},
		},
		Available: decimal.NewFromInt(4),
		NetQty:    decimal.NewFromInt(6),
		Netted:    true,
	}}
	dropped = []replenishment.NettedLine{{
		ConsolidatedLine: replenishment.ConsolidatedLine{
			SupplierCode:        "1001",
			ArticleCode:         "777",
			DestinationBranchID: 82,
			RequestedQty:        decimal.NewFromInt(2),
			Representative:      replenishment.PendingLine{CorrelationKey: "OC-3"},
			MemberKeys:          []string{"OC-3"},
		},
		Available: decimal.NewFromInt(5),
		NetQty:    decimal.Zero,
		Netted:    true,
	}}
	return lines, dropped
}

func TestEncodeRunCSV(t *testing.T) {
	lines, dropped := sampleNetted()
	data, err := EncodeRunCSV(lines, dropped)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, artifactHeader, records[0])
	assert.Equal(t, []string{"publish", "1001", "555", "41", "41CD", "10", "4", "6", "OC-1", "OC-1|OC-2"}, records[1])
	assert.Equal(t, []string{"dropped", "1001", "777", "82", "", "2", "5", "0", "OC-3", "OC-3"}, records[2])
}

func TestEncodeRunCSV_NotNetted(t *testing.T) {
	lines, _ := sampleNetted()
	lines[0].Netted = false

	data, err := EncodeRunCSV(lines, nil)
	require.NoError(t, err)
	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	assert.Empty(t, records[1][6], "available is blank when stock was not considered")
}

func TestArtifactName(t *testing.T) {
	tests := []struct {
		runID   string
		want    string
		wantErr bool
	}{
		{"6f1c0e4e-run", "6f1c0e4e-run_consolidated.csv", false},
		{"", "", true},
		{"../etc/passwd", "", true},
		{`a\b`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.runID, func(t *testing.T) {
			got, err := ArtifactName(tt.runID)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocalSink_WriteRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runs")
	sink, err := NewLocalSink(dir)
	require.NoError(t, err)

	lines, dropped := sampleNetted()
	path, err := sink.WriteRun(context.Background(), "run-1", lines, dropped)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run-1_consolidated.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "OC-1|OC-2")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sink.WriteRun(ctx, "run-2", lines, dropped)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSink(t *testing.T) {
	ctx := context.Background()

	t.Run("none", func(t *testing.T) {
		sink, err := NewSink(ctx, config.ArtifactsConfig{Kind: "none"}, zap.NewNop())
		require.NoError(t, err)
		assert.Nil(t, sink)
	})

	t.Run("local", func(t *testing.T) {
		sink, err := NewSink(ctx, config.ArtifactsConfig{Kind: "local", Dir: t.TempDir()}, zap.NewNop())
		require.NoError(t, err)
		assert.IsType(t, &LocalSink{}, sink)
	})

	t.Run("s3 ensures the bucket", func(t *testing.T) {
		fake, srv := newFakeS3(t)
		sink, err := NewSink(ctx, *testArtifactsConfig(srv.URL), zap.NewNop())
		require.NoError(t, err)
		assert.IsType(t, &S3ObjectStorage{}, sink)
		assert.True(t, fake.buckets["connexa-runs"])
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := NewSink(ctx, config.ArtifactsConfig{Kind: "ftp"}, zap.NewNop())
		assert.Error(t, err)
	})
}
