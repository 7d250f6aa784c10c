package schema

import (
	"context"
	"regexp"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/querywright/querywright/internal/db"
)

func TestLoadBuildsOrderedCatalog(t *testing.T) {
	handle, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = handle.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1
  AND table_type = 'BASE TABLE'
ORDER BY table_name`)).
		WithArgs("main").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).
			AddRow("customers").
			AddRow("orders"))

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`)).
		WithArgs("main").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type"}).
			AddRow("customers", "customer_id", "INTEGER").
			AddRow("customers", "first_name", "VARCHAR").
			AddRow("orders", "order_id", "INTEGER").
			AddRow("orders", "customer_id", "INTEGER"))

	catalog := NewCatalog()
	if err := catalog.Load(context.Background(), handle, db.DialectDuckDB); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tables := catalog.Tables()
	if len(tables) != 2 {
		t.Fatalf("table count = %d", len(tables))
	}
	if tables[0].Name != "customers" || tables[1].Name != "orders" {
		t.Fatalf("table order = %q, %q", tables[0].Name, tables[1].Name)
	}
	if len(tables[0].Columns) != 2 {
		t.Fatalf("customers column count = %d", len(tables[0].Columns))
	}
	if tables[0].Columns[0].Name != "customer_id" {
		t.Fatalf("first column = %q", tables[0].Columns[0].Name)
	}
	if catalog.LastRefresh().IsZero() {
		t.Fatal("LastRefresh should be set after Load")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestLoadUsesPublicSchemaForPostgres(t *testing.T) {
	handle, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = handle.Close() }()

	mock.ExpectQuery("information_schema.tables").
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}))
	mock.ExpectQuery("information_schema.columns").
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type"}))

	catalog := NewCatalog()
	if err := catalog.Load(context.Background(), handle, db.DialectPostgres); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestToTextFormatsTables(t *testing.T) {
	catalog := NewCatalog()
	catalog.tables = []Table{
		{Name: "products", Columns: []Column{
			{Name: "product_id", Type: "INTEGER"},
			{Name: "list_price", Type: "DECIMAL(10,2)"},
		}},
		{Name: "brands", Columns: []Column{
			{Name: "brand_id", Type: "INTEGER"},
		}},
	}

	text := catalog.ToText()
	if !strings.Contains(text, "Table products: product_id (INTEGER), list_price (DECIMAL(10,2))") {
		t.Fatalf("ToText() = %q", text)
	}
	if !strings.Contains(text, "Table brands: brand_id (INTEGER)") {
		t.Fatalf("ToText() = %q", text)
	}
}

func TestToTextEmptyCatalog(t *testing.T) {
	if got := NewCatalog().ToText(); got != "(no tables found)" {
		t.Fatalf("ToText() = %q", got)
	}
}

func TestTableNames(t *testing.T) {
	catalog := NewCatalog()
	catalog.tables = []Table{{Name: "a"}, {Name: "b"}}
	names := catalog.TableNames()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("TableNames() = %v", names)
	}
}
