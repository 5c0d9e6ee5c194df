package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"k8s.io/klog/v2"

	"github.com/xpdacq/xpdacq/pkg/xpd"
)

//go:embed report.tmpl
var reportTmpl string

// ReportFile is the name of the HTML report written into a directory.
const ReportFile = "index.html"

type reportRow struct {
	Run     *Run
	Outputs []Output
}

// WriteReport renders an HTML overview of runs and their outputs into dir.
// Output links are relative to dir.
func WriteReport(dir string, title string, runs []Run, outs []Output, keys []string) (string, error) {
	// output paths are stored absolute
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs: %w", err)
	}

	byRun := map[string][]Output{}
	for _, o := range outs {
		byRun[o.RunID] = append(byRun[o.RunID], o)
	}
	rows := make([]reportRow, 0, len(runs))
	for i := range runs {
		rows = append(rows, reportRow{Run: &runs[i], Outputs: byRun[runs[i].ID]})
	}

	bs, err := renderReport(dir, title, rows, keys)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}
	p := filepath.Join(dir, ReportFile)
	klog.V(1).Infof("writing report with %d runs to %s", len(rows), p)
	if err := os.WriteFile(p, bs, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := xpd.VerifyWritten(p); err != nil {
		return "", err
	}
	return p, nil
}

func renderReport(dir string, title string, rows []reportRow, keys []string) ([]byte, error) {
	tmpl, err := template.New("report").Funcs(tmplFunctions(dir)).Parse(reportTmpl)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	data := struct {
		Title     string
		Generated time.Time
		Keys      []string
		Rows      []reportRow
	}{
		Title:     title,
		Generated: time.Now(),
		Keys:      keys,
		Rows:      rows,
	}

	var tpl bytes.Buffer
	if err = tmpl.Execute(&tpl, data); err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	return tpl.Bytes(), nil
}

// tmplFunctions are functions available to the report template.
func tmplFunctions(dir string) template.FuncMap {
	return template.FuncMap{
		"Odd": func(i int) bool {
			return i%2 == 1
		},
		"RelPath": func(s string) string {
			r, err := filepath.Rel(dir, s)
			if err != nil {
				return fmt.Sprintf("ERROR[%v]", err)
			}
			return filepath.ToSlash(r)
		},
		"Short": xpd.ShortID,
		"Stub": func(t time.Time) string {
			return t.Local().Format(xpd.StubFormat)
		},
		"Field": func(r *Run, key string) string {
			v, ok := r.Metadata().Field(key)
			if !ok {
				return "-"
			}
			return v
		},
		"Comments": comments,
		"BasePath": filepath.Base,
	}
}
