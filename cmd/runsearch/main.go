// runsearch lists catalogued runs as a table
package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/xpdacq/xpdacq/pkg/beamtime"
	"github.com/xpdacq/xpdacq/pkg/catalog"
)

var (
	configPath   = flag.String("config", "", "path to YAML config file")
	sample       = flag.String("sample", "", "sample name contains")
	experimenter = flag.String("experimenter", "", "experimenter name contains")
	saf          = flag.String("saf", "", "SAF number")
	darks        = flag.Bool("darks", false, "only dark stacks")
	lights       = flag.Bool("lights", false, "only light stacks")
	since        = flag.String("since", "", "start time, e.g. 2016-03-04 or 2016-03-04T13:00")
	window       = flag.Duration("window", 0, "with -since, only runs within this duration of it; negative looks back")
	limit        = flag.Int("limit", 50, "maximum number of runs, 0 for all")
	keys         = flag.String("keys", "", "comma-separated feature keys to show (default: configured feature keys)")
	htmlDir      = flag.String("html", "", "also write an HTML report with links to outputs into this directory")
)

var timeLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"}

func parseTime(s string) (time.Time, error) {
	var err error
	for _, l := range timeLayouts {
		var t time.Time
		t, err = time.ParseInLocation(l, s, time.Local)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	c, err := beamtime.LoadConfig(*configPath)
	if err != nil {
		klog.Exitf("config: %v", err)
	}

	q := catalog.Query{SampleName: *sample, Experimenter: *experimenter, SAF: *saf}
	if *since != "" {
		start, err := parseTime(*since)
		if err != nil {
			klog.Exitf("-since: %v", err)
		}
		if *window != 0 {
			w := catalog.TimeWindow(start, *window)
			q.Since, q.Until = w.Since, w.Until
		} else {
			q.Since = start
		}
	}
	switch {
	case *darks && *lights:
		klog.Exitf("-darks and -lights are exclusive")
	case *darks:
		q.Dark = darks
	case *lights:
		dark := false
		q.Dark = &dark
	}
	q.Limit = *limit

	cat, err := catalog.Open(c.CatalogPath)
	if err != nil {
		klog.Exitf("catalog: %v", err)
	}
	defer cat.Close()

	ctx := context.Background()
	runs, err := cat.Search(ctx, q)
	if err != nil {
		klog.Exitf("search: %v", err)
	}

	ks := c.FeatureKeys
	if *keys != "" {
		ks = strings.Split(*keys, ",")
	}
	if err := catalog.WriteTable(os.Stdout, runs, ks); err != nil {
		klog.Exitf("write: %v", err)
	}
	klog.V(1).Infof("%d runs", len(runs))

	if *htmlDir != "" {
		outs, err := cat.Outputs(ctx, "")
		if err != nil {
			klog.Exitf("outputs: %v", err)
		}
		title := "xpdacq runs"
		if *saf != "" {
			title = "xpdacq runs for SAF " + *saf
		}
		p, err := catalog.WriteReport(*htmlDir, title, runs, outs, ks)
		if err != nil {
			klog.Exitf("report: %v", err)
		}
		klog.Infof("report written to %s", p)
	}
}
