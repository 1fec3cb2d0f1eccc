package file

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func openDir(t *testing.T, dir string) endpoint.Conn {
	t.Helper()
	conn, err := New().Open(context.Background(), endpoint.Settings{Database: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestCSV(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "users.csv"), "external_id,email,plan\n1,a@x.io,pro\n2,b@x.io,\n3,c@x.io,free\n")
	conn := openDir(t, dir)

	res, err := conn.Run(context.Background(), "users.csv", endpoint.RunOptions{Limit: 2})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Columns) != 3 || res.Columns[1] != "email" {
		t.Errorf("unexpected columns %v", res.Columns)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(res.Rows))
	}
	if res.Rows[1]["plan"] != nil {
		t.Errorf("empty cells should be nil, got %#v", res.Rows[1]["plan"])
	}
}

func TestGzipNDJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.ndjson.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	gz.Write([]byte(`{"external_id":"u1","event":"Signed Up","timestamp":"2024-01-01T00:00:00Z","n":5}` + "\n" +
		`{"external_id":"u2","event":"Logged In","timestamp":"2024-01-02T00:00:00Z","n":7}` + "\n"))
	gz.Close()
	f.Close()

	conn := openDir(t, dir)
	cur, err := conn.Stream(context.Background(), "events.ndjson.gz")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer cur.Close()

	want := []string{"event", "external_id", "n", "timestamp"}
	if cols := cur.Columns(); len(cols) != len(want) || cols[0] != want[0] || cols[3] != want[3] {
		t.Errorf("unexpected columns %v", cols)
	}
	var ids []string
	for cur.Next() {
		ids = append(ids, cur.Value()["external_id"].(string))
	}
	if cur.Err() != nil || len(ids) != 2 || ids[1] != "u2" {
		t.Errorf("unexpected rows %v (err %v)", ids, cur.Err())
	}
}

func TestParquet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.parquet")

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	schema := `{"Tag":"name=parquet_go_root, repetitiontype=REQUIRED","Fields":[
		{"Tag":"name=external_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"},
		{"Tag":"name=domain, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"},
		{"Tag":"name=seats, type=INT64, repetitiontype=OPTIONAL"}]}`
	pw, err := writer.NewJSONWriter(schema, fw, 1)
	if err != nil {
		t.Fatalf("parquet writer: %v", err)
	}
	for _, row := range []string{
		`{"external_id":"acme","domain":"acme.io","seats":12}`,
		`{"external_id":"globex","domain":"globex.com","seats":3}`,
	} {
		if err := pw.Write(row); err != nil {
			t.Fatalf("write row: %v", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	fw.Close()

	conn := openDir(t, dir)
	res, err := conn.Run(context.Background(), "accounts.parquet", endpoint.RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Columns) != 3 || res.Columns[0] != "external_id" {
		t.Errorf("unexpected columns %v", res.Columns)
	}
	if len(res.Rows) != 2 || res.Rows[1]["domain"] != "globex.com" {
		t.Errorf("unexpected rows %v", res.Rows)
	}
	if errs := New().Validate(res.Columns, endpoint.ImportAccounts); len(errs) != 0 {
		t.Errorf("unexpected validation errors %v", errs)
	}
}

func TestWrapQueryAndEscape(t *testing.T) {
	src := New()
	q, err := src.WrapQuery("exports/users-:import_start_date.csv;", endpoint.Replacements{
		"import_start_date": time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if q != "exports/users-2024-03-09.csv" {
		t.Errorf("unexpected file name %q", q)
	}
	if !src.PlainQuery() {
		t.Error("file names must bypass comment handling")
	}
	if q, _ := src.WrapQuery("users--2024.csv", nil); q != "users--2024.csv" {
		t.Errorf("dashes in file name changed: %q", q)
	}

	conn := openDir(t, t.TempDir())
	if _, err := conn.Stream(context.Background(), "../etc/passwd.csv"); !endpoint.IsKind(err, endpoint.KindQuery) {
		t.Errorf("expected QueryError for escaping path, got %v", err)
	}
	if _, err := conn.Stream(context.Background(), "data.xlsx"); !endpoint.IsKind(err, endpoint.KindQuery) {
		t.Errorf("expected QueryError for unknown format, got %v", err)
	}
}

func TestOpenMissingDirectory(t *testing.T) {
	_, err := New().Open(context.Background(), endpoint.Settings{Database: filepath.Join(t.TempDir(), "nope")})
	if !endpoint.IsKind(err, endpoint.KindConnection) {
		t.Errorf("expected ConnectionError, got %v", err)
	}
	_, err = New().Open(context.Background(), endpoint.Settings{})
	if !endpoint.IsKind(err, endpoint.KindConfiguration) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}
