package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"beakdash-backend/internal/storage"
)

type fakeRepo struct {
	rules         []storage.AlertRuleRecord
	rulesErr      error
	triggered     map[string]string
	notifications []storage.NotificationRecord
	insertErr     error
}

func (f *fakeRepo) ListActiveAlertRules(ctx context.Context, queryID string) ([]storage.AlertRuleRecord, error) {
	return f.rules, f.rulesErr
}

func (f *fakeRepo) UpdateAlertRuleTrigger(ctx context.Context, id, executionResultID string) error {
	if f.triggered == nil {
		f.triggered = map[string]string{}
	}
	f.triggered[id] = executionResultID
	return nil
}

func (f *fakeRepo) InsertAlertNotification(ctx context.Context, rec storage.NotificationRecord) (string, error) {
	if f.insertErr != nil {
		return "", f.insertErr
	}
	f.notifications = append(f.notifications, rec)
	return "n-" + rec.Channel, nil
}

type fakeDispatcher struct {
	calls []string
	err   error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, channel string, payload any) error {
	f.calls = append(f.calls, channel)
	return f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rule(id string, condition string, channels ...string) storage.AlertRuleRecord {
	return storage.AlertRuleRecord{
		ID:        id,
		Name:      "rule " + id,
		Status:    "active",
		Condition: []byte(condition),
		Channels:  channels,
	}
}

func TestProcessStatusConditionFansOutPerChannel(t *testing.T) {
	repo := &fakeRepo{rules: []storage.AlertRuleRecord{
		rule("r1", `{"status":"error"}`, "email", "slack"),
	}}
	dispatcher := &fakeDispatcher{}
	e := NewEvaluator(repo, dispatcher, testLogger())

	outcomes := e.Process(context.Background(), "q1", "res1", "error", map[string]any{"rowCount": 0})
	if len(outcomes) != 1 || !outcomes[0].Fired {
		t.Fatalf("expected one fired outcome, got %#v", outcomes)
	}
	if len(repo.notifications) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(repo.notifications))
	}
	if repo.triggered["r1"] != "res1" {
		t.Fatalf("expected rule trigger updated with result id")
	}
	for _, n := range repo.notifications {
		if n.Status != "sent" {
			t.Fatalf("unexpected notification status: %s", n.Status)
		}
		var content Content
		if err := json.Unmarshal(n.Content, &content); err != nil {
			t.Fatalf("invalid content payload: %v", err)
		}
		if content.ExecutionResultID != "res1" || content.QueryID != "q1" || content.AlertName != "rule r1" {
			t.Fatalf("unexpected content: %#v", content)
		}
	}
}

func TestProcessStatusConditionMismatch(t *testing.T) {
	repo := &fakeRepo{rules: []storage.AlertRuleRecord{
		rule("r1", `{"status":"error"}`, "email"),
	}}
	e := NewEvaluator(repo, &fakeDispatcher{}, testLogger())

	outcomes := e.Process(context.Background(), "q1", "res1", "warning", nil)
	if outcomes[0].Fired {
		t.Fatalf("expected rule not to fire on status mismatch")
	}
	if len(repo.notifications) != 0 {
		t.Fatalf("expected no notifications")
	}
}

func TestProcessMetricCondition(t *testing.T) {
	repo := &fakeRepo{rules: []storage.AlertRuleRecord{
		rule("r1", `{"metric":"duplicate_count","operator":">","value":2}`, "email"),
	}}
	e := NewEvaluator(repo, &fakeDispatcher{}, testLogger())

	outcomes := e.Process(context.Background(), "q1", "res1", "warning", map[string]any{"duplicate_count": 3})
	if !outcomes[0].Fired {
		t.Fatalf("expected metric condition to fire")
	}
}

func TestProcessMetricConditionDefaultOperator(t *testing.T) {
	repo := &fakeRepo{rules: []storage.AlertRuleRecord{
		rule("r1", `{"metric":"violation_count","value":0}`, "email"),
	}}
	e := NewEvaluator(repo, &fakeDispatcher{}, testLogger())

	outcomes := e.Process(context.Background(), "q1", "res1", "warning", map[string]any{"violation_count": 1})
	if !outcomes[0].Fired {
		t.Fatalf("expected default > operator to fire")
	}
}

func TestProcessBothVariantsFireIndependently(t *testing.T) {
	// Status matches but the metric does not; either variant alone fires the
	// rule.
	repo := &fakeRepo{rules: []storage.AlertRuleRecord{
		rule("r1", `{"status":"error","metric":"rowCount","operator":">","value":100}`, "email"),
	}}
	e := NewEvaluator(repo, &fakeDispatcher{}, testLogger())

	outcomes := e.Process(context.Background(), "q1", "res1", "error", map[string]any{"rowCount": 1})
	if !outcomes[0].Fired {
		t.Fatalf("expected status variant to fire regardless of metric variant")
	}
}

func TestProcessAbsentMetricDoesNotFire(t *testing.T) {
	repo := &fakeRepo{rules: []storage.AlertRuleRecord{
		rule("r1", `{"metric":"missing_metric","operator":">","value":0}`, "email"),
	}}
	e := NewEvaluator(repo, &fakeDispatcher{}, testLogger())

	outcomes := e.Process(context.Background(), "q1", "res1", "warning", map[string]any{"rowCount": 5})
	if outcomes[0].Fired {
		t.Fatalf("expected absent metric not to fire")
	}
}

func TestProcessDispatchFailureRecordsFailedStatus(t *testing.T) {
	repo := &fakeRepo{rules: []storage.AlertRuleRecord{
		rule("r1", `{"status":"error"}`, "email"),
	}}
	e := NewEvaluator(repo, &fakeDispatcher{err: errors.New("bus down")}, testLogger())

	outcomes := e.Process(context.Background(), "q1", "res1", "error", nil)
	if !outcomes[0].Fired {
		t.Fatalf("expected rule to fire")
	}
	if len(repo.notifications) != 1 || repo.notifications[0].Status != "failed" {
		t.Fatalf("expected failed notification record, got %#v", repo.notifications)
	}
}

func TestProcessLoadFailureIsSwallowed(t *testing.T) {
	repo := &fakeRepo{rulesErr: errors.New("db down")}
	e := NewEvaluator(repo, &fakeDispatcher{}, testLogger())

	outcomes := e.Process(context.Background(), "q1", "res1", "error", nil)
	if outcomes != nil {
		t.Fatalf("expected nil outcomes on load failure, got %#v", outcomes)
	}
}

func TestProcessInvalidConditionReportedInOutcome(t *testing.T) {
	repo := &fakeRepo{rules: []storage.AlertRuleRecord{
		rule("r1", `not json`, "email"),
	}}
	e := NewEvaluator(repo, &fakeDispatcher{}, testLogger())

	outcomes := e.Process(context.Background(), "q1", "res1", "error", nil)
	if outcomes[0].Err == nil {
		t.Fatalf("expected condition parse error in outcome")
	}
	if outcomes[0].Fired {
		t.Fatalf("expected rule not to fire")
	}
}
