package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
)

// Target describes a resolved external database to run a check against.
type Target struct {
	Driver   string // postgres | mysql | sqlserver
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ResultSet is the normalized outcome of a successful check execution.
type ResultSet struct {
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"rowCount"`
	Fields   []Field          `json:"fields"`
}

type Field struct {
	Name     string `json:"name"`
	DataType string `json:"dataType"`
}

type Kind int

const (
	KindConnection Kind = iota
	KindQuery
)

// Error classifies an execution failure: either the connection could not be
// established, or the connection worked and the statement itself failed.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func connectionError(err error) *Error {
	return &Error{Kind: KindConnection, Err: err}
}

func queryError(err error) *Error {
	return &Error{Kind: KindQuery, Err: err}
}

// ErrKind reports the failure kind of err, if it carries one.
func ErrKind(err error) (Kind, bool) {
	var execErr *Error
	if errors.As(err, &execErr) {
		return execErr.Kind, true
	}
	return 0, false
}

// Run executes exactly one statement against the target under the given
// wall-clock budget. A fresh single-connection handle is opened per call and
// fully torn down on every exit path; nothing is pooled across invocations.
// The budget is enforced both by a server-side statement timeout where the
// dialect supports one and by the outer context deadline, which also bounds
// connection establishment.
func Run(ctx context.Context, target Target, sqlText string, budget time.Duration) (*ResultSet, error) {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	dsn, err := buildDSN(target, budget)
	if err != nil {
		return nil, connectionError(err)
	}
	db, err := sql.Open(target.Driver, dsn)
	if err != nil {
		return nil, connectionError(fmt.Errorf("open %s connection: %w", target.Driver, err))
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(0)
	db.SetConnMaxLifetime(budget)

	return runOn(ctx, db, target.Driver, sqlText, budget)
}

// runOn executes the statement on an already-configured handle. The session
// statement-timeout failure counts as a query error: the connection is
// established by then, only the statement path is broken.
func runOn(ctx context.Context, db *sql.DB, driver, sqlText string, budget time.Duration) (*ResultSet, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, connectionError(fmt.Errorf("connect to %s: %w", driver, err))
	}
	defer conn.Close()

	if stmt := statementTimeout(driver, budget); stmt != "" {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return nil, queryError(fmt.Errorf("set statement timeout: %w", err))
		}
	}

	rows, err := conn.QueryContext(ctx, sqlText)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, queryError(fmt.Errorf("query timed out after %s", budget))
		}
		return nil, queryError(err)
	}
	defer rows.Close()

	result, err := collectRows(rows)
	if err != nil {
		return nil, queryError(err)
	}
	return result, nil
}

// statementTimeout returns the session statement that bounds query time on
// the server side. SQL Server has no session-level equivalent; the context
// deadline alone bounds it there.
func statementTimeout(driver string, budget time.Duration) string {
	ms := budget.Milliseconds()
	switch driver {
	case "postgres":
		return fmt.Sprintf("SET statement_timeout = %d", ms)
	case "mysql":
		return fmt.Sprintf("SET SESSION max_execution_time = %d", ms)
	default:
		return ""
	}
}

func collectRows(rows *sql.Rows) (*ResultSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	fields := make([]Field, len(cols))
	if types, err := rows.ColumnTypes(); err == nil {
		for i, ct := range types {
			fields[i] = Field{Name: ct.Name(), DataType: ct.DatabaseTypeName()}
		}
	} else {
		for i, name := range cols {
			fields[i] = Field{Name: name}
		}
	}
	result := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		for i := range values {
			var v any
			values[i] = &v
		}
		if err := rows.Scan(values...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			v := *(values[i].(*any))
			row[col] = normalizeValue(v)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &ResultSet{Rows: result, RowCount: len(result), Fields: fields}, nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	default:
		return t
	}
}
