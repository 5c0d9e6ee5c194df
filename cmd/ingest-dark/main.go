// ingest-dark stores dark frame stacks in dark_base and records them in the catalog
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/xpdacq/xpdacq/pkg/beamtime"
	"github.com/xpdacq/xpdacq/pkg/catalog"
	"github.com/xpdacq/xpdacq/pkg/xpd"
)

var (
	configPath = flag.String("config", "", "path to YAML config file")
	previews   = flag.Int("previews", 4, "number of trailing frames to write as TIFF previews")
	noCatalog  = flag.Bool("no-catalog", false, "don't record stacks in the catalog")
	remove     = flag.Bool("rm", false, "remove the input stack once stored")
)

// removeInput deletes the input stack in unless it is the stored copy. Nothing is
// removed when either path cannot be resolved.
func removeInput(in, stored string, abs func(string) (string, error)) error {
	src, err := abs(in)
	if err != nil {
		return fmt.Errorf("abs %s: %w", in, err)
	}
	dst, err := abs(stored)
	if err != nil {
		return fmt.Errorf("abs %s: %w", stored, err)
	}
	if src == dst {
		return nil
	}
	return os.Remove(in)
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if len(flag.Args()) == 0 {
		klog.Exitf("usage: %s [flags] <dark.fits> ...", os.Args[0])
	}

	c, err := beamtime.LoadConfig(*configPath)
	if err != nil {
		klog.Exitf("config: %v", err)
	}
	s, err := beamtime.LoadSession(c)
	if err != nil {
		klog.Warningf("ignoring session: %v", err)
	}

	var cat *catalog.Catalog
	if !*noCatalog {
		cat, err = catalog.Open(c.CatalogPath)
		if err != nil {
			klog.Exitf("catalog: %v", err)
		}
		defer cat.Close()
	}

	ctx := context.Background()
	failed := 0
	for _, in := range flag.Args() {
		r, err := xpd.ReadStack(in)
		if err != nil {
			klog.Errorf("read %s: %v", in, err)
			failed++
			continue
		}
		if !r.IsDark {
			klog.Errorf("%s is not a dark stack", in)
			failed++
			continue
		}
		s.Apply(&r.Meta)

		p, err := xpd.SaveDarkStack(r, c.Dark(), *previews)
		if err != nil {
			klog.Errorf("save %s: %v", in, err)
			failed++
			continue
		}
		r.Path = p

		if cat != nil {
			if err := cat.AddRun(ctx, r); err != nil {
				klog.Errorf("catalog: %v", err)
			} else if err := cat.AddOutput(ctx, r.ID, p, catalog.KindDark); err != nil {
				klog.Errorf("catalog: %v", err)
			}
		}

		if *remove {
			if err := removeInput(in, p, filepath.Abs); err != nil {
				klog.Warningf("not removing %s: %v", in, err)
			}
		}
	}

	if failed > 0 {
		klog.Exitf("%d of %d stacks failed", failed, len(flag.Args()))
	}
}
