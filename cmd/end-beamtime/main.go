// end-beamtime moves the working directories of a finished beamtime into the archive
package main

import (
	"flag"
	"fmt"
	"os"

	"k8s.io/klog/v2"

	"github.com/xpdacq/xpdacq/pkg/beamtime"
)

var (
	configPath  = flag.String("config", "", "path to YAML config file")
	baseDir     = flag.String("base", "", "override the base directory")
	archiveRoot = flag.String("archive", "", "override the archive root")
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
	if *archiveRoot != "" {
		c.ArchiveRoot = *archiveRoot
	}

	a := beamtime.NewArchiver(c, beamtime.NewLinePrompter(os.Stdin, os.Stdout))
	s, err := beamtime.LoadSession(c)
	if err != nil {
		klog.Warningf("ignoring session: %v", err)
	}
	if s != nil {
		a.DefaultUser = s.SAF
	}

	rep, err := a.Run()
	klog.Flush()
	switch rep.State {
	case beamtime.Done:
		fmt.Printf("Data moved to %s\n", rep.Target)
		fmt.Println("Run start-beamtime to set up for the next users.")
		return
	case beamtime.Aborted:
		fmt.Printf("Stopped, nothing was moved: %v\n", err)
	default:
		fmt.Printf("Archive to %s failed: %v\n", rep.Target, err)
		if len(rep.Moved) > 0 {
			fmt.Println("Already moved:")
			for _, m := range rep.Moved {
				fmt.Printf("  %s\n", m)
			}
		}
		if len(rep.Remaining) > 0 {
			fmt.Println("Please move these by hand:")
			for _, r := range rep.Remaining {
				fmt.Printf("  %s\n", r)
			}
		}
	}
	os.Exit(1)
}
