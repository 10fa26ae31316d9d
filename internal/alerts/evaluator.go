package alerts

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"beakdash-backend/internal/notify"
	"beakdash-backend/internal/quality"
	"beakdash-backend/internal/storage"
)

// Repository is the slice of the storage layer the evaluator needs.
type Repository interface {
	ListActiveAlertRules(ctx context.Context, queryID string) ([]storage.AlertRuleRecord, error)
	UpdateAlertRuleTrigger(ctx context.Context, id, executionResultID string) error
	InsertAlertNotification(ctx context.Context, rec storage.NotificationRecord) (string, error)
}

// Condition holds both variants of an alert rule condition. A status
// condition and a metric condition are independent alternatives; a rule
// carrying both fires when either matches.
type Condition struct {
	Status   string  `json:"status,omitempty"`
	Metric   string  `json:"metric,omitempty"`
	Operator string  `json:"operator,omitempty"`
	Value    float64 `json:"value,omitempty"`
}

// Content is the payload recorded with each notification and handed to the
// dispatch bus.
type Content struct {
	QueryID           string         `json:"queryId"`
	ExecutionResultID string         `json:"executionResultId"`
	Metrics           map[string]any `json:"metrics"`
	Status            string         `json:"status"`
	AlertName         string         `json:"alertName"`
	Timestamp         time.Time      `json:"timestamp"`
}

// Outcome reports what happened to one rule during evaluation. Errors are
// captured here for logging, never propagated to the pipeline.
type Outcome struct {
	RuleID   string
	RuleName string
	Fired    bool
	Channels []string
	Err      error
}

type Evaluator struct {
	repo     Repository
	dispatch notify.Dispatcher
	logger   *slog.Logger
	clock    func() time.Time
}

func NewEvaluator(repo Repository, dispatch notify.Dispatcher, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		repo:     repo,
		dispatch: dispatch,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// Process evaluates every active alert rule for the query against the run's
// status and metrics, records one notification per configured channel for
// each fired rule, and returns per-rule outcomes. It never fails the run.
func (e *Evaluator) Process(ctx context.Context, queryID, executionResultID, status string, metrics map[string]any) []Outcome {
	rules, err := e.repo.ListActiveAlertRules(ctx, queryID)
	if err != nil {
		e.logger.Error("failed to load alert rules",
			slog.String("queryId", queryID), slog.String("error", err.Error()))
		return nil
	}
	outcomes := make([]Outcome, 0, len(rules))
	for _, rule := range rules {
		outcome := e.processRule(ctx, rule, queryID, executionResultID, status, metrics)
		if outcome.Err != nil {
			e.logger.Error("alert rule processing failed",
				slog.String("ruleId", outcome.RuleID), slog.String("error", outcome.Err.Error()))
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (e *Evaluator) processRule(ctx context.Context, rule storage.AlertRuleRecord, queryID, executionResultID, status string, metrics map[string]any) Outcome {
	outcome := Outcome{RuleID: rule.ID, RuleName: rule.Name}
	var cond Condition
	if err := json.Unmarshal(rule.Condition, &cond); err != nil {
		outcome.Err = err
		return outcome
	}
	if !conditionFires(cond, status, metrics) {
		return outcome
	}
	outcome.Fired = true
	if err := e.repo.UpdateAlertRuleTrigger(ctx, rule.ID, executionResultID); err != nil {
		outcome.Err = err
		return outcome
	}
	content := Content{
		QueryID:           queryID,
		ExecutionResultID: executionResultID,
		Metrics:           metrics,
		Status:            status,
		AlertName:         rule.Name,
		Timestamp:         e.clock(),
	}
	payload, err := json.Marshal(content)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	for _, channel := range rule.Channels {
		notificationStatus := "sent"
		if err := e.dispatch.Dispatch(ctx, channel, content); err != nil {
			notificationStatus = "failed"
			e.logger.Warn("notification dispatch failed",
				slog.String("ruleId", rule.ID), slog.String("channel", channel), slog.String("error", err.Error()))
		}
		if _, err := e.repo.InsertAlertNotification(ctx, storage.NotificationRecord{
			AlertID: rule.ID,
			Channel: channel,
			Status:  notificationStatus,
			Content: payload,
		}); err != nil {
			outcome.Err = err
			continue
		}
		outcome.Channels = append(outcome.Channels, channel)
	}
	return outcome
}

// conditionFires treats the two condition variants as independent checks: a
// rule fires when its status condition matches the run status or its metric
// condition matches the computed metrics. The metric operator defaults to
// ">".
func conditionFires(cond Condition, status string, metrics map[string]any) bool {
	if cond.Status != "" && cond.Status == status {
		return true
	}
	if cond.Metric != "" {
		if value, ok := metrics[cond.Metric]; ok {
			op := cond.Operator
			if op == "" {
				op = ">"
			}
			return quality.CompareMetric(value, op, cond.Value)
		}
	}
	return false
}
