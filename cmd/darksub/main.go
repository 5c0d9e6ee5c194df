// darksub writes dark-corrected TIFF images for light frame stacks
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/xpdacq/xpdacq/pkg/beamtime"
	"github.com/xpdacq/xpdacq/pkg/catalog"
	"github.com/xpdacq/xpdacq/pkg/xpd"
)

var (
	configPath = flag.String("config", "", "path to YAML config file")
	outDir     = flag.String("out", "", "output directory (default: tif_base)")
	perFrame   = flag.Bool("per-frame", false, "write one image per frame instead of the summed image")
	darkID     = flag.String("dark", "", "use the dark stack with this id prefix")
	tolerance  = flag.Float64("tolerance", 0, "treat darks within this many seconds of exposure as equivalent")
	exact      = flag.Bool("exact", false, "only use darks with the same exposure time")
	before     = flag.Bool("before", false, "only use darks acquired before the light stack")
	name       = flag.String("name", "", "base name for the output, instead of the generated one")
	calib      = flag.Bool("calib", false, "attach the most recent calibration in config_base")
	calibFile  = flag.String("calib-file", "", "attach this calibration file from config_base")
	tag        = flag.Bool("tag", false, "tag output images with run metadata using exiftool")
	watchDir   = flag.String("watch", "", "keep correcting stacks arriving in this directory")
	noCatalog  = flag.Bool("no-catalog", false, "don't record outputs in the catalog")
)

// processor corrects light stacks with a shared dark index.
type processor struct {
	idx     *xpd.DarkIndex
	opts    xpd.SaveOptions
	cal     *xpd.Calibration
	session *beamtime.Session
	cat     *catalog.Catalog
	seen    map[string]bool
}

func (p *processor) process(ctx context.Context, r *xpd.ExposureRecord) error {
	p.session.Apply(&r.Meta)
	if r.Meta.Calibration == nil {
		r.Meta.Calibration = p.cal
	}

	o := p.opts
	if *before {
		o.Lookup.AtOrBefore = r.AcquiredAt
	}

	s, err := xpd.SaveCorrected(r, p.idx, o)
	if err != nil {
		return err
	}
	p.seen[r.ID] = true

	if p.cat != nil {
		if err := p.cat.AddSaved(ctx, s); err != nil {
			klog.Errorf("catalog: %v", err)
		}
	}
	return nil
}

// checkName rejects a fixed output name when more than one stack could be written under it.
func checkName(name string, inputs int, watching bool) error {
	if name == "" {
		return nil
	}
	if watching {
		return errors.New("-name cannot be used with -watch")
	}
	if inputs > 1 {
		return fmt.Errorf("-name needs a single input stack, got %d", inputs)
	}
	return nil
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if len(flag.Args()) == 0 && *watchDir == "" {
		klog.Exitf("usage: %s [flags] <light.fits> ... or -watch <dir>", os.Args[0])
	}
	if err := checkName(*name, len(flag.Args()), *watchDir != ""); err != nil {
		klog.Exitf("%v", err)
	}

	c, err := beamtime.LoadConfig(*configPath)
	if err != nil {
		klog.Exitf("config: %v", err)
	}
	if *outDir == "" {
		*outDir = c.Tif()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	idx := xpd.NewDarkIndex(xpd.DirSource{Dir: c.Dark()})
	if err := idx.Rebuild(ctx); err != nil {
		klog.Exitf("dark index: %v", err)
	}
	klog.Infof("%d dark stacks available in %s", idx.Len(), c.Dark())

	mode := xpd.Sum
	if *perFrame {
		mode = xpd.PerFrame
	}
	p := &processor{
		idx: idx,
		opts: xpd.SaveOptions{
			OutDir:      *outDir,
			Mode:        mode,
			FeatureKeys: c.FeatureKeys,
			Name:        *name,
			DarkID:      *darkID,
			Lookup:      xpd.LookupOptions{Exact: *exact, Tolerance: *tolerance},
		},
		seen: map[string]bool{},
	}

	p.session, err = beamtime.LoadSession(c)
	if err != nil {
		klog.Warningf("ignoring session: %v", err)
	}

	if *calib || *calibFile != "" {
		p.cal, err = xpd.LoadCalibration(c.Calibrations(), *calibFile)
		if err != nil {
			klog.Exitf("calibration: %v", err)
		}
		klog.Infof("using calibration %s", p.cal.File)
	}

	if *tag {
		t, err := xpd.NewExifTagger()
		if err != nil {
			klog.Exitf("tagger: %v", err)
		}
		defer func() {
			if err := t.Close(); err != nil {
				klog.Errorf("Failed to close exiftool: %v", err)
			}
		}()
		p.opts.Tagger = t
	}

	if !*noCatalog {
		p.cat, err = catalog.Open(c.CatalogPath)
		if err != nil {
			klog.Exitf("catalog: %v", err)
		}
		defer p.cat.Close()
	}

	failed := 0
	for _, in := range flag.Args() {
		r, err := xpd.ReadStack(in)
		if err != nil {
			klog.Errorf("read %s: %v", in, err)
			failed++
			continue
		}
		if err := p.process(ctx, r); err != nil {
			klog.Errorf("%v", err)
			failed++
		}
	}

	if *watchDir != "" {
		if err := watch(ctx, c, p); err != nil {
			klog.Errorf("watch: %v", err)
			failed++
		}
	}

	if failed > 0 {
		klog.Flush()
		os.Exit(1)
	}
}

// watch corrects light stacks arriving in -watch while the dark index follows dark_base.
func watch(ctx context.Context, c *beamtime.Config, p *processor) error {
	darks, err := xpd.WatchDarks(c.Dark(), p.idx)
	if err != nil {
		return err
	}

	// both callbacks run on their own watcher goroutine; only lights touch p
	lights, err := xpd.NewStackWatcher(*watchDir, func(r *xpd.ExposureRecord) {
		if r.IsDark {
			klog.Infof("%s is a dark stack, run ingest-dark to store it", r.Path)
			return
		}
		if p.seen[r.ID] {
			klog.V(1).Infof("%s already corrected", r.ID)
			return
		}
		if err := p.process(ctx, r); err != nil {
			klog.Errorf("%v", err)
		}
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return darks.Run(ctx) })
	g.Go(func() error { return lights.Run(ctx) })
	return g.Wait()
}
