package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"beakdash-backend/internal/alerts"
	"beakdash-backend/internal/executor"
	"beakdash-backend/internal/quality"
	"beakdash-backend/internal/schedule"
	"beakdash-backend/internal/storage"
)

const (
	StatusSuccess = "success"
	StatusWarning = "warning"
	StatusError   = "error"

	// RunBudget bounds scheduled and ad-hoc check executions;
	// ValidateBudget bounds pre-save validation runs.
	RunBudget      = 25 * time.Second
	ValidateBudget = 5 * time.Second
)

// ErrRunInProgress is returned when a second run of the same query is
// requested while one is still executing.
var ErrRunInProgress = errors.New("query run already in progress")

// ErrPersistence wraps failures writing the execution record or the schedule
// update. The in-memory execution outcome is still returned alongside it.
var ErrPersistence = errors.New("failed to persist execution result")

// Repository is the slice of the storage layer the pipeline needs.
type Repository interface {
	GetQuery(ctx context.Context, id, userID string) (storage.QueryRecord, error)
	InsertExecutionResult(ctx context.Context, rec storage.ExecutionRecord) (string, error)
	UpdateQuerySchedule(ctx context.Context, id string, last time.Time, next *time.Time) error
}

// Resolver produces a ready executor target for a connection the user owns.
type Resolver interface {
	Resolve(ctx context.Context, connectionID, userID string) (executor.Target, error)
}

// Alerter evaluates alert rules after non-success runs. Its outcomes are
// logged, never allowed to fail the run.
type Alerter interface {
	Process(ctx context.Context, queryID, executionResultID, status string, metrics map[string]any) []alerts.Outcome
}

// ExecFunc runs one statement against a target under a budget.
type ExecFunc func(ctx context.Context, target executor.Target, sqlText string, budget time.Duration) (*executor.ResultSet, error)

// Execution is the in-memory outcome of one pipeline invocation, mirroring
// the persisted record.
type Execution struct {
	ID           string              `json:"id"`
	Status       string              `json:"status"`
	Result       *executor.ResultSet `json:"result"`
	Metrics      map[string]any      `json:"metrics"`
	DurationMS   int64               `json:"executionDuration"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
}

// Runner drives the six pipeline stages: resolve connection, execute query,
// compute metrics, evaluate thresholds, record the execution, evaluate
// alerts. Execution failures are converted into the recorded status rather
// than surfaced as errors; only lookup and persistence failures propagate.
type Runner struct {
	repo     Repository
	resolver Resolver
	exec     ExecFunc
	alerter  Alerter
	logger   *slog.Logger
	clock    func() time.Time

	mu      sync.Mutex
	running map[string]struct{}
}

func NewRunner(repo Repository, resolver Resolver, exec ExecFunc, alerter Alerter, logger *slog.Logger) *Runner {
	if exec == nil {
		exec = executor.Run
	}
	return &Runner{
		repo:     repo,
		resolver: resolver,
		exec:     exec,
		alerter:  alerter,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
		running:  map[string]struct{}{},
	}
}

// Run executes the quality query once on behalf of userID. At most one run
// per query is in flight at a time; overlapping requests get
// ErrRunInProgress instead of racing the schedule update.
func (r *Runner) Run(ctx context.Context, queryID, userID string) (*Execution, error) {
	if !r.acquire(queryID) {
		return nil, ErrRunInProgress
	}
	defer r.release(queryID)

	query, err := r.repo.GetQuery(ctx, queryID, userID)
	if err != nil {
		return nil, err
	}
	target, err := r.resolver.Resolve(ctx, query.ConnectionID, userID)
	if err != nil {
		return nil, err
	}

	start := r.clock()
	result, execErr := r.exec(ctx, target, query.SQLText, RunBudget)
	duration := r.clock().Sub(start).Milliseconds()

	execution := &Execution{Status: StatusSuccess, Result: result, DurationMS: duration}
	if execErr != nil {
		execution.Status = StatusError
		execution.Result = nil
		execution.ErrorMessage = failureMessage(execErr)
	} else {
		execution.Metrics = quality.Compute(quality.ParseCategory(query.Category), result)
		evaluation := quality.EvaluateThresholds(execution.Metrics, parseThresholds(query.Thresholds))
		if !evaluation.Valid {
			execution.Status = StatusWarning
			execution.ErrorMessage = evaluation.Reason
		}
	}

	if err := r.record(ctx, &query, execution); err != nil {
		return execution, err
	}

	if execution.Status != StatusSuccess {
		outcomes := r.alerter.Process(ctx, query.ID, execution.ID, execution.Status, execution.Metrics)
		for _, outcome := range outcomes {
			if outcome.Fired {
				r.logger.Info("alert rule fired",
					slog.String("queryId", query.ID),
					slog.String("ruleId", outcome.RuleID),
					slog.Int("channels", len(outcome.Channels)))
			}
		}
	}
	return execution, nil
}

// Validate performs a validation-only execution: resolve the connection and
// run the statement under the short budget, persisting nothing.
func (r *Runner) Validate(ctx context.Context, connectionID, userID, sqlText string) error {
	target, err := r.resolver.Resolve(ctx, connectionID, userID)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, target, sqlText, ValidateBudget)
	return err
}

// record inserts the immutable execution row and advances the query's
// schedule. Both writes happen regardless of status so failures are durably
// recorded too.
func (r *Runner) record(ctx context.Context, query *storage.QueryRecord, execution *Execution) error {
	var resultJSON []byte
	if execution.Result != nil {
		resultJSON, _ = json.Marshal(execution.Result)
	}
	var metricsJSON []byte
	if execution.Metrics != nil {
		metricsJSON, _ = json.Marshal(execution.Metrics)
	}
	var errorMessage *string
	if execution.ErrorMessage != "" {
		errorMessage = &execution.ErrorMessage
	}
	id, err := r.repo.InsertExecutionResult(ctx, storage.ExecutionRecord{
		QueryID:      query.ID,
		Status:       execution.Status,
		Result:       resultJSON,
		Metrics:      metricsJSON,
		DurationMS:   execution.DurationMS,
		ErrorMessage: errorMessage,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	execution.ID = id

	now := r.clock()
	next := schedule.NextRun(query.Frequency, now)
	if err := r.repo.UpdateQuerySchedule(ctx, query.ID, now, next); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (r *Runner) acquire(queryID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[queryID]; ok {
		return false
	}
	r.running[queryID] = struct{}{}
	return true
}

func (r *Runner) release(queryID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, queryID)
}

// failureMessage prefixes execution failures the way the UI renders them.
func failureMessage(err error) string {
	if kind, ok := executor.ErrKind(err); ok && kind == executor.KindConnection {
		return fmt.Sprintf("Connection error: %v", err)
	}
	return fmt.Sprintf("Query error: %v", err)
}

func parseThresholds(raw []byte) quality.ThresholdSpec {
	if len(raw) == 0 {
		return nil
	}
	var spec quality.ThresholdSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil
	}
	return spec
}
