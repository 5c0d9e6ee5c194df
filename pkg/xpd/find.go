package xpd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"k8s.io/klog/v2"
)

// FindStacks returns the paths of frame stacks below root, skipping hidden entries.
func FindStacks(ctx context.Context, root string) ([]string, error) {
	found := []string{}

	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if path != root && strings.HasPrefix(filepath.Base(path), ".") {
				if de.IsDir() {
					return godirwalk.SkipThis
				}
				return nil
			}
			if de.IsRegular() && strings.HasSuffix(path, StackExt) {
				klog.V(1).Infof("found %s", path)
				found = append(found, path)
			}
			return nil
		},
	})

	return found, err
}

// DirSource reads dark stacks from a directory tree.
type DirSource struct {
	Dir string
}

// Darks reads every dark stack below the directory. Light stacks and unreadable
// files are skipped with a warning; a missing directory is an error.
func (s DirSource) Darks(ctx context.Context) ([]*ExposureRecord, error) {
	st, err := os.Stat(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", s.Dir)
	}

	paths, err := FindStacks(ctx, s.Dir)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}

	rs := []*ExposureRecord{}
	for _, p := range paths {
		r, err := ReadStack(p)
		if err != nil {
			klog.Warningf("unable to read %s: %v", p, err)
			continue
		}
		if !r.IsDark {
			klog.V(1).Infof("%s is not a dark stack", p)
			continue
		}
		rs = append(rs, r)
	}
	return rs, nil
}
