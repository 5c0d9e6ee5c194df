package catalog

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/xpdacq/xpdacq/pkg/xpd"
)

// Query selects runs. Zero fields match everything.
type Query struct {
	// SampleName and Experimenter match substrings.
	SampleName   string
	Experimenter string
	SAF          string
	Dark         *bool
	// Since and Until bound the acquisition time as [Since, Until).
	Since time.Time
	Until time.Time
	Limit int
}

// TimeWindow returns a query for runs acquired within d of start. A negative d
// looks backwards.
func TimeWindow(start time.Time, d time.Duration) Query {
	end := start.Add(d)
	if d < 0 {
		start, end = end, start
	}
	return Query{Since: start, Until: end}
}

// Search returns the matching runs, newest first.
func (c *Catalog) Search(ctx context.Context, q Query) ([]Run, error) {
	tx := c.db.WithContext(ctx).Model(&Run{})
	if q.SampleName != "" {
		tx = tx.Where("sample_name LIKE ?", "%"+q.SampleName+"%")
	}
	if q.Experimenter != "" {
		tx = tx.Where("experimenters LIKE ?", "%"+q.Experimenter+"%")
	}
	if q.SAF != "" {
		tx = tx.Where("saf = ?", q.SAF)
	}
	if q.Dark != nil {
		tx = tx.Where("is_dark = ?", *q.Dark)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("acquired_at >= ?", q.Since.UTC())
	}
	if !q.Until.IsZero() {
		tx = tx.Where("acquired_at < ?", q.Until.UTC())
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var runs []Run
	if err := tx.Order("acquired_at DESC, id DESC").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return runs, nil
}

// WriteTable prints one row per run: time, short id, exposure, kind, the given
// feature keys, and comments.
func WriteTable(w io.Writer, runs []Run, keys []string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	head := append([]string{"time", "id", "exposure", "kind"}, keys...)
	head = append(head, "comments")
	fmt.Fprintln(tw, strings.Join(head, "\t"))

	for i := range runs {
		r := &runs[i]
		kind := "light"
		if r.IsDark {
			kind = "dark"
		}
		row := []string{
			r.AcquiredAt.Local().Format(xpd.StubFormat),
			xpd.ShortID(r.ID),
			strconv.FormatFloat(r.ExposureTime, 'g', -1, 64) + "s",
			kind,
		}
		m := r.Metadata()
		for _, k := range keys {
			v, ok := m.Field(k)
			if !ok {
				v = "-"
			}
			row = append(row, v)
		}
		row = append(row, comments(r.Comments))
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func comments(cs map[string]string) string {
	if len(cs) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(cs))
	for k := range cs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+cs[k])
	}
	return strings.Join(parts, "; ")
}
