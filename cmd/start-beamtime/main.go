// start-beamtime prepares the working directories for a new beamtime
package main

import (
	"flag"
	"os"
	"time"

	"k8s.io/klog/v2"

	"github.com/xpdacq/xpdacq/pkg/beamtime"
)

var (
	configPath = flag.String("config", "", "path to YAML config file")
	baseDir    = flag.String("base", "", "override the base directory")
	noPrompt   = flag.Bool("no-prompt", false, "don't ask for beamtime metadata")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	c, err := beamtime.LoadConfig(*configPath)
	if err != nil {
		klog.Exitf("config: %v", err)
	}
	if *baseDir != "" {
		c.BaseDir = *baseDir
	}

	if err := beamtime.Start(c); err != nil {
		klog.Exitf("start failed: %v\nrun end-beamtime to archive the previous beamtime first", err)
	}
	klog.Infof("working directories ready in %s", c.BaseDir)

	if *noPrompt {
		return
	}

	s, err := beamtime.PromptSession(beamtime.NewLinePrompter(os.Stdin, os.Stdout), time.Now())
	if err != nil {
		klog.Exitf("session: %v", err)
	}
	if err := beamtime.SaveSession(c, s); err != nil {
		klog.Exitf("save session: %v", err)
	}
	klog.Infof("beamtime %s for %v started", s.SAF, s.Experimenters)
}
