// Package storage writes run artifacts to local disk or S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/diarco/connexa-sync/internal/domain/replenishment"
)

const csvContentType = "text/csv; charset=utf-8"

var artifactHeader = []string{
	"status",
	"supplier",
	"article",
	"branch",
	"distribution_center",
	"requested",
	"available",
	"net",
	"correlation_key",
	"member_keys",
}

// Sink stores the audit dump of a run's netted batch
type Sink interface {
	WriteRun(ctx context.Context, runID string, lines, dropped []replenishment.NettedLine) (string, error)
}

// ArtifactName returns the object or file name of a run's dump
func ArtifactName(runID string) (string, error) {
	if runID == "" {
		return "", errors.New("run id is required")
	}
	if strings.ContainsAny(runID, `/\`) || strings.Contains(runID, "..") {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	return runID + "_consolidated.csv", nil
}

// EncodeRunCSV renders publishable lines first, then lines netted to zero
func EncodeRunCSV(lines, dropped []replenishment.NettedLine) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(artifactHeader); err != nil {
		return nil, err
	}
	write := func(status string, set []replenishment.NettedLine) error {
		for _, l := range set {
			available := ""
			if l.Netted {
				available = l.Available.String()
			}
			record := []string{
				status,
				l.SupplierCode,
				l.ArticleCode,
				strconv.Itoa(l.DestinationBranchID),
				l.DistributionCenterCode,
				l.RequestedQty.String(),
				available,
				l.NetQty.String(),
				l.CorrelationKey(),
				strings.Join(l.MemberKeys, "|"),
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		return nil
	}
	if err := write("publish", lines); err != nil {
		return nil, err
	}
	if err := write("dropped", dropped); err != nil {
		return nil, err
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to encode run artifact: %w", err)
	}
	return buf.Bytes(), nil
}
