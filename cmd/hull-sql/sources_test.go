package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
)

func TestWriteSources(t *testing.T) {
	var buf bytes.Buffer
	err := writeSources(&buf, []*endpoint.Descriptor{
		{ID: "file", Title: "Flat files", Fields: []*endpoint.FieldDescriptor{
			{Key: "database", Required: true},
			{Key: "format"},
		}},
		{ID: "postgres", Title: "PostgreSQL", DefaultPort: 5432, Fields: endpoint.RelationalFields()},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[1], "file") || !strings.Contains(lines[1], "database*,format") || !strings.Contains(lines[1], " - ") {
		t.Errorf("unexpected file row %q", lines[1])
	}
	if !strings.Contains(lines[2], "5432") || !strings.Contains(lines[2], "host*") || !strings.Contains(lines[2], "ssh_host,") {
		t.Errorf("unexpected postgres row %q", lines[2])
	}
}

func TestSourcesListsRegisteredAdapters(t *testing.T) {
	descs, err := endpoint.DefaultRegistry().Describe()
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	kinds := map[string]bool{}
	for _, d := range descs {
		kinds[d.ID] = true
	}
	for _, want := range []string{"file", "postgres", "sqlite"} {
		if !kinds[want] {
			t.Errorf("expected %s in %v", want, kinds)
		}
	}
}
