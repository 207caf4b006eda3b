package render

import (
	"bytes"
	"strings"
	"testing"
)

type counts struct {
	Model string `json:"model" yaml:"model"`
	Final int    `json:"final" yaml:"final"`
}

func (c counts) Table() ([]string, [][]string) {
	return []string{"MODEL", "FINAL"}, [][]string{{c.Model, "12"}}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"JSON", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestRenderFormats(t *testing.T) {
	data := counts{Model: "sentry.project", Final: 12}

	tests := []struct {
		format Format
		want   []string
	}{
		{FormatTable, []string{"MODEL           FINAL\n", "--------------  -----\n", "sentry.project  12\n"}},
		{FormatJSON, []string{`"model": "sentry.project"`, `"final": 12`}},
		{FormatYAML, []string{"model: sentry.project\n", "final: 12\n"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewRenderer(&buf, Options{Format: tt.format}).Render(data); err != nil {
				t.Fatalf("Render failed: %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("output missing %q:\n%s", want, buf.String())
				}
			}
		})
	}
}

func TestRenderTablePorcelain(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, Options{Format: FormatTable, Porcelain: true})
	if err := r.RenderTable([]string{"A", "B"}, [][]string{{"1", "2"}}); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "A\tB\n1\t2\n" {
		t.Errorf("unexpected porcelain output %q", got)
	}
}

func TestRenderNonTabularFallsBackToYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := NewRenderer(&buf, Options{}).Render(map[string]int{"x": 1}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "x: 1\n" {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestRenderAsUsesTableOnlyInTableMode(t *testing.T) {
	table := TableFunc(func() ([]string, [][]string) {
		return []string{"K"}, [][]string{{"v"}}
	})
	data := map[string]string{"k": "v"}

	var buf bytes.Buffer
	if err := NewRenderer(&buf, Options{Format: FormatTable}).RenderAs(data, table); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "K\n-\nv\n" {
		t.Errorf("unexpected table output %q", buf.String())
	}

	buf.Reset()
	if err := NewRenderer(&buf, Options{Format: FormatJSON, Porcelain: true}).RenderAs(data, table); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "{\"k\":\"v\"}\n" {
		t.Errorf("unexpected json output %q", buf.String())
	}
}
