package reconcile

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/galaxy-atlas/server/internal/galaxy"
)

// maxReportedIssues caps the issue list of a ValidationReport; counts stay exact.
const maxReportedIssues = 100

// boundSlack absorbs cos/sin round-off at annulus edges.
const boundSlack = 1e-6

// IssueKind classifies a validation finding.
type IssueKind string

const (
	IssueOutOfGalaxy IssueKind = "out_of_galaxy"
	IssueOutOfRegion IssueKind = "out_of_region"
	IssueDuplicate   IssueKind = "duplicate_position"
)

// ValidationIssue is one record that failed a check.
type ValidationIssue struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Region      string             `json:"region"`
	Kind        IssueKind          `json:"kind"`
	Coordinates galaxy.Coordinates `json:"coordinates"`
}

// ValidationReport summarizes a scan of every record with coordinates.
type ValidationReport struct {
	Checked            int               `json:"checked"`
	Valid              int               `json:"valid"`
	OutOfGalaxy        int               `json:"outOfGalaxy"`
	OutOfRegion        int               `json:"outOfRegion"`
	DuplicatePositions int               `json:"duplicatePositions"`
	MaxDiskRadius      float64           `json:"maxDiskRadius"`
	MaxDiskHeight      float64           `json:"maxDiskHeight"`
	Issues             []ValidationIssue `json:"issues"`
}

// OK reports whether no record failed any check.
func (v *ValidationReport) OK() bool {
	return v.Checked == v.Valid
}

func (v *ValidationReport) note(rec PositionedRecord, kind IssueKind) {
	if len(v.Issues) >= maxReportedIssues {
		return
	}
	v.Issues = append(v.Issues, ValidationIssue{
		ID:          rec.ID,
		Name:        rec.Name,
		Region:      rec.Region,
		Kind:        kind,
		Coordinates: *rec.Coordinates,
	})
}

// Validate pages through all computed records and checks them against the galaxy-wide
// disk bounds and their own region profile, and looks for records sharing a position.
// Zero bounds default to the extent of the transform's region table.
func (r *Runner) Validate(ctx context.Context, store ComputedLister, maxDiskRadius, maxDiskHeight float64, batchSize int) (*ValidationReport, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	table := r.transform.Regions()
	if maxDiskRadius <= 0 || maxDiskHeight <= 0 {
		maxDiskRadius, maxDiskHeight = table.Extent()
	}

	report := &ValidationReport{
		MaxDiskRadius: maxDiskRadius,
		MaxDiskHeight: maxDiskHeight,
		Issues:        []ValidationIssue{},
	}
	seen := make(map[[3]int64]struct{})

	for offset := 0; ; offset += batchSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		records, err := store.ListComputed(ctx, batchSize, offset)
		if err != nil {
			return report, fmt.Errorf("%w at offset %d: %w", ErrFetch, offset, err)
		}
		for _, rec := range records {
			if rec.Coordinates == nil {
				continue
			}
			report.Checked++
			c := *rec.Coordinates
			ok := true

			if !galaxy.IsWithinGalacticBounds(c, maxDiskRadius+boundSlack, maxDiskHeight) {
				report.OutOfGalaxy++
				report.note(rec, IssueOutOfGalaxy)
				ok = false
			}
			if !withinProfile(table.Profile(rec.Region), c) {
				report.OutOfRegion++
				report.note(rec, IssueOutOfRegion)
				ok = false
			}
			key := positionKey(c)
			if _, dup := seen[key]; dup {
				report.DuplicatePositions++
				report.note(rec, IssueDuplicate)
				ok = false
			} else {
				seen[key] = struct{}{}
			}
			if ok {
				report.Valid++
			}
		}
		if len(records) < batchSize {
			break
		}
	}

	r.log.Info("validation finished",
		zap.Int("checked", report.Checked),
		zap.Int("valid", report.Valid),
		zap.Int("out_of_galaxy", report.OutOfGalaxy),
		zap.Int("out_of_region", report.OutOfRegion),
		zap.Int("duplicates", report.DuplicatePositions),
	)
	return report, nil
}

func withinProfile(p galaxy.RegionProfile, c galaxy.Coordinates) bool {
	rad := c.DiskRadius()
	return rad >= p.MinRadius-boundSlack && rad <= p.MaxRadius+boundSlack &&
		c.Y >= p.MinHeight && c.Y <= p.MaxHeight
}

// positionKey buckets a position to a thousandth of a unit.
func positionKey(c galaxy.Coordinates) [3]int64 {
	return [3]int64{
		int64(math.Round(c.X * 1000)),
		int64(math.Round(c.Y * 1000)),
		int64(math.Round(c.Z * 1000)),
	}
}
