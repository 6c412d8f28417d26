package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/fraudrules/rules"
)

// Output format constants.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printYAML goes through JSON so YAML keys match the JSON field names
func printYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("re-read JSON: %w", err)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal YAML: %w", err)
	}
	_, err = w.Write(out)
	return err
}

type tableWriter struct {
	w *tabwriter.Writer
}

func newTable(out io.Writer, headers ...string) *tableWriter {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	return &tableWriter{w: w}
}

func (t *tableWriter) AddRow(values ...string) {
	fmt.Fprintln(t.w, strings.Join(values, "\t"))
}

func (t *tableWriter) Flush() error {
	return t.w.Flush()
}

// render prints v in the selected format, using table for the table format
func (a *app) render(w io.Writer, v any, table func(io.Writer) error) error {
	switch a.output {
	case outputJSON:
		return printJSON(w, v)
	case outputYAML:
		return printYAML(w, v)
	default:
		return table(w)
	}
}

func (a *app) renderRules(w io.Writer, list ...*rules.Rule) error {
	var v any = list
	if len(list) == 1 {
		v = list[0]
	}
	return a.render(w, v, func(w io.Writer) error {
		if len(list) == 0 {
			_, err := fmt.Fprintln(w, "No rules found.")
			return err
		}
		t := newTable(w, "ID", "RULE ID", "NAME", "STATUS", "SEVERITY", "VERSION", "VERSIONS")
		for _, r := range list {
			t.AddRow(truncate(r.ID, 36), r.RuleID, truncate(r.Name, 40), string(r.Status), r.Severity,
				r.CurrentVersion, fmt.Sprint(len(r.Versions)))
		}
		return t.Flush()
	})
}

func (a *app) renderVersions(w io.Writer, versions ...rules.RuleVersion) error {
	var v any = versions
	if len(versions) == 1 {
		v = versions[0]
	}
	return a.render(w, v, func(w io.Writer) error {
		if len(versions) == 0 {
			_, err := fmt.Fprintln(w, "No versions found.")
			return err
		}
		t := newTable(w, "ID", "VERSION", "ACTIVE", "DRAFT", "CREATED", "BY", "NOTES")
		for _, v := range versions {
			t.AddRow(truncate(v.ID, 36), v.Version, boolToStr(v.IsActive), boolToStr(v.IsDraft),
				v.CreatedAt.Format("2006-01-02 15:04"), v.CreatedBy, truncate(v.Notes, 40))
		}
		return t.Flush()
	})
}

func boolToStr(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
