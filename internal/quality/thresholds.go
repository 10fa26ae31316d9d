package quality

import (
	"fmt"
	"sort"
	"strconv"
)

// ThresholdRule compares a computed metric against a limit. The operator
// defaults to ">=" when omitted.
type ThresholdRule struct {
	Operator string  `json:"operator"`
	Value    float64 `json:"value"`
}

// ThresholdSpec maps metric names to rules. Entries naming a metric absent
// from the computed map are skipped.
type ThresholdSpec map[string]ThresholdRule

type Evaluation struct {
	Valid  bool
	Reason string
}

// EvaluateThresholds checks each configured rule against the metrics map and
// stops at the first failure. An empty spec is always valid. Metric names are
// visited in sorted order so the reported failure is deterministic.
func EvaluateThresholds(metrics map[string]any, spec ThresholdSpec) Evaluation {
	if len(spec) == 0 {
		return Evaluation{Valid: true}
	}
	names := make([]string, 0, len(spec))
	for name := range spec {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value, ok := metrics[name]
		if !ok {
			continue
		}
		rule := spec[name]
		op := rule.Operator
		if op == "" {
			op = ">="
		}
		actual, numeric := toFloat(value)
		if !numeric || !compare(actual, op, rule.Value) {
			return Evaluation{
				Valid:  false,
				Reason: fmt.Sprintf("%s value %v fails threshold (%s %v)", name, value, op, rule.Value),
			}
		}
	}
	return Evaluation{Valid: true}
}

// CompareMetric applies a threshold operator to a raw metric value. Values
// that cannot be read as numbers compare false under every operator.
func CompareMetric(value any, op string, limit float64) bool {
	actual, ok := toFloat(value)
	if !ok {
		return false
	}
	return compare(actual, op, limit)
}

func compare(actual float64, op string, limit float64) bool {
	switch op {
	case ">":
		return actual > limit
	case ">=":
		return actual >= limit
	case "<":
		return actual < limit
	case "<=":
		return actual <= limit
	case "=", "==":
		return actual == limit
	case "!=":
		return actual != limit
	default:
		return false
	}
}

func toFloat(val any) (float64, bool) {
	switch t := val.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
