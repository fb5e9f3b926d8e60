package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

type circuitRows []string

func (c circuitRows) Table() Table {
	t := Table{Headers: []string{"CIRCUIT", "STATE"}}
	for _, name := range c {
		t.Rows = append(t.Rows, []string{name, "closed"})
	}
	return t
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"JSON", FormatJSON, false},
		{" csv ", FormatCSV, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTextFormatter(t *testing.T) {
	t.Run("plain value", func(t *testing.T) {
		buf := &bytes.Buffer{}
		if err := (&TextFormatter{}).FormatTo(buf, "allow"); err != nil {
			t.Fatalf("FormatTo() error = %v", err)
		}
		if buf.String() != "allow\n" {
			t.Errorf("FormatTo() = %q, want %q", buf.String(), "allow\n")
		}
	})

	t.Run("table aligns columns", func(t *testing.T) {
		buf := &bytes.Buffer{}
		if err := (&TextFormatter{}).FormatTo(buf, circuitRows{"build", "integration-tests"}); err != nil {
			t.Fatalf("FormatTo() error = %v", err)
		}
		lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
		if len(lines) != 3 {
			t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf.String())
		}
		col := strings.Index(lines[0], "STATE")
		for _, line := range lines[1:] {
			if strings.Index(line, "closed") != col {
				t.Errorf("column misaligned:\n%s", buf.String())
			}
		}
	})
}

func TestJSONFormatter(t *testing.T) {
	tests := []struct {
		name   string
		data   any
		indent bool
	}{
		{name: "simple string", data: "test"},
		{name: "map with indent", data: map[string]string{"key": "value"}, indent: true},
		{name: "tabular value encodes itself", data: circuitRows{"build"}, indent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			if err := (&JSONFormatter{Indent: tt.indent}).FormatTo(buf, tt.data); err != nil {
				t.Fatalf("FormatTo() error = %v", err)
			}
			var result any
			if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
				t.Errorf("FormatTo() produced invalid JSON: %v", err)
			}
		})
	}

	buf := &bytes.Buffer{}
	_ = (&JSONFormatter{}).FormatTo(buf, circuitRows{"build"})
	if strings.TrimSpace(buf.String()) != `["build"]` {
		t.Errorf("tabular JSON = %s, want the raw value", buf.String())
	}
}

func TestCSVFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	table := Table{Headers: []string{"id", "rule"}, Rows: [][]string{{"d1", "no-force-push"}, {"d2", "a,b"}}}
	if err := (&CSVFormatter{}).FormatTo(buf, table); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	want := "id,rule\nd1,no-force-push\nd2,\"a,b\"\n"
	if buf.String() != want {
		t.Errorf("FormatTo() = %q, want %q", buf.String(), want)
	}

	if err := (&CSVFormatter{}).FormatTo(&bytes.Buffer{}, map[string]int{"a": 1}); err == nil {
		t.Error("FormatTo() of a non-table should fail")
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format OutputFormat
		want   string
	}{
		{FormatText, "*cli.TextFormatter"},
		{FormatJSON, "*cli.JSONFormatter"},
		{FormatCSV, "*cli.CSVFormatter"},
		{"unknown", "*cli.TextFormatter"},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			got := fmt.Sprintf("%T", NewFormatter(tt.format))
			if got != tt.want {
				t.Errorf("NewFormatter(%q) type = %v, want %v", tt.format, got, tt.want)
			}
		})
	}
}
