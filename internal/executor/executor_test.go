package executor

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
)

func TestExecuteReturnsNormalizedRows(t *testing.T) {
	handle, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = handle.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) AS n FROM customers")).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(1445)))

	result, err := New(handle).Execute(context.Background(), Request{SQL: "SELECT COUNT(*) AS n FROM customers;"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 1 || result.Columns[0] != "n" {
		t.Fatalf("Columns = %v", result.Columns)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("row count = %d", len(result.Rows))
	}
	if result.Rows[0][0] != int64(1445) {
		t.Fatalf("Rows[0][0] = %v", result.Rows[0][0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestExecuteConvertsBytesToString(t *testing.T) {
	handle, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = handle.Close() }()

	mock.ExpectQuery("SELECT name").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow([]byte("Trek")))

	result, err := New(handle).Execute(context.Background(), Request{SQL: "SELECT name FROM brands"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Rows[0][0] != "Trek" {
		t.Fatalf("Rows[0][0] = %v (%T)", result.Rows[0][0], result.Rows[0][0])
	}
}

func TestExecuteWrapsRowLimit(t *testing.T) {
	handle, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = handle.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM (SELECT * FROM orders) AS q LIMIT 10")).
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}))

	if _, err := New(handle).Execute(context.Background(), Request{SQL: "SELECT * FROM orders;;", RowLimit: 10}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func queryLatencySampleCount(t *testing.T) uint64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, family := range families {
		if family.GetName() == "querywright_query_latency_ms" {
			return family.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	t.Fatal("querywright_query_latency_ms not registered")
	return 0
}

func TestExecuteRecordsQueryLatency(t *testing.T) {
	handle, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = handle.Close() }()

	mock.ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(1)))

	before := queryLatencySampleCount(t)
	if _, err := New(handle).Execute(context.Background(), Request{SQL: "SELECT 1"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := queryLatencySampleCount(t); got != before+1 {
		t.Fatalf("latency sample count = %d, want %d", got, before+1)
	}
}

func TestExecuteRejectsEmptySQL(t *testing.T) {
	handle, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = handle.Close() }()

	if _, err := New(handle).Execute(context.Background(), Request{SQL: " ; "}); err == nil {
		t.Fatal("Execute() expected error for empty sql")
	}
}

func TestValidateRunsExplain(t *testing.T) {
	handle, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = handle.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta("EXPLAIN SELECT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"explain_key", "explain_value"}))

	if err := New(handle).Validate(context.Background(), "SELECT 1;"); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestValidateSurfacesPlannerError(t *testing.T) {
	handle, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = handle.Close() }()

	plannerErr := errors.New(`Binder Error: Referenced column "pricee" not found`)
	mock.ExpectQuery("EXPLAIN").WillReturnError(plannerErr)

	err = New(handle).Validate(context.Background(), "SELECT pricee FROM products")
	if !errors.Is(err, plannerErr) {
		t.Fatalf("Validate() error = %v, want planner error", err)
	}
}
