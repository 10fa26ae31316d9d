package quality

import (
	"sort"
	"strings"

	"beakdash-backend/internal/executor"
)

// Category is the closed set of supported check categories. Unknown category
// strings fall back to CategoryBaseline, which computes only rowCount.
type Category string

const (
	CategoryBaseline          Category = "baseline"
	CategoryCompleteness      Category = "completeness"
	CategoryConsistency       Category = "consistency"
	CategoryAccuracy          Category = "accuracy"
	CategoryIntegrity         Category = "integrity"
	CategoryTimeliness        Category = "timeliness"
	CategoryUniqueness        Category = "uniqueness"
	CategoryRelationship      Category = "relationship"
	CategorySensitiveExposure Category = "sensitive_exposure"
)

// ParseCategory normalizes stored category strings. Legacy rows carry a
// "data_" prefix and hyphenated variants.
func ParseCategory(s string) Category {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	normalized = strings.TrimPrefix(normalized, "data_")
	switch Category(normalized) {
	case CategoryCompleteness, CategoryConsistency, CategoryAccuracy, CategoryIntegrity,
		CategoryTimeliness, CategoryUniqueness, CategoryRelationship, CategorySensitiveExposure:
		return Category(normalized)
	default:
		return CategoryBaseline
	}
}

// Compute derives category-specific metrics from a normalized result set.
// It never fails: empty results, missing columns, and heterogeneous rows all
// produce defined metrics.
func Compute(category Category, rs *executor.ResultSet) map[string]any {
	metrics := map[string]any{}
	if rs == nil {
		rs = &executor.ResultSet{}
	}
	metrics["rowCount"] = rs.RowCount
	switch category {
	case CategoryCompleteness:
		computeCompleteness(rs, metrics)
	case CategoryConsistency:
		metrics["consistency_results"] = rs.Rows
	case CategoryAccuracy:
		metrics["accuracy_results"] = rs.Rows
	case CategoryTimeliness:
		metrics["timeliness_results"] = rs.Rows
	case CategoryIntegrity:
		metrics["violation_count"] = rs.RowCount
		metrics["violation_details"] = rs.Rows
	case CategoryUniqueness:
		metrics["duplicate_count"] = rs.RowCount
		metrics["duplicate_details"] = rs.Rows
	case CategoryRelationship:
		metrics["relationship_violation_count"] = rs.RowCount
		metrics["relationship_violation_details"] = rs.Rows
	case CategorySensitiveExposure:
		metrics["exposure_count"] = rs.RowCount
		metrics["exposure_details"] = rs.Rows
	}
	return metrics
}

// computeCompleteness emits a non-null percentage per column plus an overall
// figure. Zero rows yields overall_completeness = 0 rather than dividing by
// zero.
func computeCompleteness(rs *executor.ResultSet, metrics map[string]any) {
	columns := columnList(rs)
	totalRows := rs.RowCount
	if totalRows == 0 || len(columns) == 0 {
		metrics["overall_completeness"] = float64(0)
		return
	}
	totalNonNull := 0
	for _, col := range columns {
		nonNull := 0
		for _, row := range rs.Rows {
			if v, ok := row[col]; ok && v != nil {
				nonNull++
			}
		}
		totalNonNull += nonNull
		metrics[col+"_completeness"] = float64(nonNull) / float64(totalRows) * 100
	}
	metrics["overall_completeness"] = float64(totalNonNull) / float64(len(columns)*totalRows) * 100
}

// columnList prefers the field descriptors; without them the first row's keys
// are the canonical column list, sorted for deterministic output.
func columnList(rs *executor.ResultSet) []string {
	if len(rs.Fields) > 0 {
		columns := make([]string, len(rs.Fields))
		for i, f := range rs.Fields {
			columns[i] = f.Name
		}
		return columns
	}
	if len(rs.Rows) == 0 {
		return nil
	}
	columns := make([]string, 0, len(rs.Rows[0]))
	for col := range rs.Rows[0] {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns
}
