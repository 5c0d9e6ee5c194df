// retag writes catalogued run metadata into saved images using exiftool.
package main

import (
	"context"
	"flag"
	"os"

	"k8s.io/klog/v2"

	"github.com/xpdacq/xpdacq/pkg/beamtime"
	"github.com/xpdacq/xpdacq/pkg/catalog"
	"github.com/xpdacq/xpdacq/pkg/xpd"
)

var (
	configPath = flag.String("config", "", "path to YAML config file")
	dryRun     = flag.Bool("n", false, "dry-run mode, don't tag things")
	overwrite  = flag.Bool("o", false, "overwrite images that already carry a run id")
	kind       = flag.String("kind", catalog.KindImage, "output kind to tag")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	c, err := beamtime.LoadConfig(*configPath)
	if err != nil {
		klog.Exitf("config: %v", err)
	}

	cat, err := catalog.Open(c.CatalogPath)
	if err != nil {
		klog.Exitf("catalog: %v", err)
	}
	defer cat.Close()

	outs, err := cat.Outputs(context.Background(), *kind)
	if err != nil {
		klog.Exitf("outputs: %v", err)
	}
	klog.Infof("found %d %s outputs", len(outs), *kind)

	t, err := xpd.NewExifTagger()
	if err != nil {
		klog.Exitf("exiftool: %v", err)
	}
	defer func() {
		if err := t.Close(); err != nil {
			klog.Errorf("Failed to close exiftool: %v", err)
		}
	}()

	tagged := 0
	for _, o := range outs {
		if o.Run == nil {
			klog.Warningf("%s has no catalogued run", o.Path)
			continue
		}
		if _, err := os.Stat(o.Path); err != nil {
			klog.Warningf("skipping %s: %v", o.Path, err)
			continue
		}
		if !*overwrite {
			id, err := t.TaggedID(o.Path)
			if err != nil {
				klog.Errorf("err: %v", err)
				continue
			}
			if id != "" {
				klog.V(1).Infof("%s has run id %s", o.Path, id)
				continue
			}
		}

		klog.Infof("tagging %s with run %s", o.Path, o.Run.ID)
		if *dryRun {
			continue
		}
		if err := t.Tag(o.Path, o.Run.Record()); err != nil {
			klog.Errorf("tag: %v", err)
			continue
		}
		tagged++
	}

	klog.Infof("retag completed, tagged %d of %d images", tagged, len(outs))
}
