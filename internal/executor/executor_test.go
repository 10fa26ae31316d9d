package executor

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// stubDriver fabricates connections by DSN so tests can drive runOn's error
// branches without a live database.
type stubDriver struct{}

func (stubDriver) Open(name string) (driver.Conn, error) {
	switch name {
	case "stall":
		return &stubConn{stall: true}, nil
	case "failexec":
		return &stubConn{execErr: errors.New("SET is disabled")}, nil
	default:
		return &stubConn{rows: &stubRows{
			cols: []string{"id", "email"},
			data: [][]driver.Value{
				{int64(1), []byte("a@x.test")},
				{int64(2), nil},
			},
		}}, nil
	}
}

type stubConn struct {
	stall   bool
	execErr error
	rows    *stubRows
}

func (c *stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c *stubConn) Close() error                        { return nil }
func (c *stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not supported") }

func (c *stubConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if c.execErr != nil {
		return nil, c.execErr
	}
	return driver.ResultNoRows, nil
}

func (c *stubConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if c.stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return c.rows, nil
}

type stubRows struct {
	cols []string
	data [][]driver.Value
	next int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.next >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.next])
	r.next++
	return nil
}

func init() {
	sql.Register("qstub", stubDriver{})
}

func TestRunOnBudgetExceededIsQueryTimeout(t *testing.T) {
	db, err := sql.Open("qstub", "stall")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	budget := 50 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	_, err = runOn(ctx, db, "stall", "SELECT pg_sleep(60)", budget)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	kind, ok := ErrKind(err)
	if !ok || kind != KindQuery {
		t.Fatalf("expected query error kind, got %v %v", kind, ok)
	}
	if !strings.Contains(err.Error(), "query timed out after") {
		t.Fatalf("expected timeout-indicative message, got %q", err.Error())
	}
}

func TestRunOnStatementTimeoutFailureIsQueryError(t *testing.T) {
	db, err := sql.Open("qstub", "failexec")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	// "postgres" makes runOn issue the session statement-timeout command,
	// which the stub rejects after the connection is established.
	_, err = runOn(context.Background(), db, "postgres", "SELECT 1", time.Second)
	if err == nil {
		t.Fatalf("expected error")
	}
	kind, ok := ErrKind(err)
	if !ok || kind != KindQuery {
		t.Fatalf("connection was established, expected query error kind, got %v %v", kind, ok)
	}
	if !strings.Contains(err.Error(), "set statement timeout") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestRunOnNormalizesRows(t *testing.T) {
	db, err := sql.Open("qstub", "rows")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	rs, err := runOn(context.Background(), db, "rows", "SELECT id, email FROM users", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs.RowCount != 2 || len(rs.Rows) != 2 {
		t.Fatalf("unexpected row count: %#v", rs)
	}
	if rs.Fields[0].Name != "id" || rs.Fields[1].Name != "email" {
		t.Fatalf("unexpected fields: %#v", rs.Fields)
	}
	if rs.Rows[0]["email"] != "a@x.test" {
		t.Fatalf("expected byte column normalized to string, got %#v", rs.Rows[0]["email"])
	}
	if rs.Rows[1]["email"] != nil {
		t.Fatalf("expected null preserved, got %#v", rs.Rows[1]["email"])
	}
}
