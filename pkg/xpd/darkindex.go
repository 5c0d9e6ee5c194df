package xpd

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// exposureEpsilon is the difference below which two exposure times are the same.
const exposureEpsilon = 1e-9

// DarkSource supplies the dark stacks an index is rebuilt from.
type DarkSource interface {
	Darks(ctx context.Context) ([]*ExposureRecord, error)
}

// LookupOptions narrows which dark stack a lookup may return.
type LookupOptions struct {
	// Exact only accepts darks with the same exposure time as the light.
	Exact bool
	// Tolerance, when positive, treats darks within this many seconds as equivalent
	// and picks the most recent of them.
	Tolerance float64
	// AtOrBefore excludes darks acquired after this time when set.
	AtOrBefore time.Time
}

// DarkIndex answers which dark stack to use for a light exposure.
//
// Lookups only read memory. The index is filled through Register or an explicit
// Rebuild from its source. It is safe for concurrent use.
type DarkIndex struct {
	source DarkSource

	rebuildMu sync.Mutex

	mu      sync.RWMutex
	records map[string]*ExposureRecord
}

// NewDarkIndex returns an empty index. src may be nil if the index is only fed through Register.
func NewDarkIndex(src DarkSource) *DarkIndex {
	return &DarkIndex{
		source:  src,
		records: map[string]*ExposureRecord{},
	}
}

// Register adds a completed dark stack. A record with the same id is replaced.
func (x *DarkIndex) Register(r *ExposureRecord) error {
	if err := validateDark(r); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.records[r.ID] = r
	klog.V(1).Infof("registered %s", r)
	return nil
}

// Forget drops any dark stack read from path, returning how many were removed.
func (x *DarkIndex) Forget(path string) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	n := 0
	for id, r := range x.records {
		if r.Path != "" && r.Path == path {
			delete(x.records, id)
			n++
		}
	}
	return n
}

// Len returns the number of indexed dark stacks.
func (x *DarkIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records)
}

// Records returns the indexed dark stacks, newest first.
func (x *DarkIndex) Records() []*ExposureRecord {
	x.mu.RLock()
	rs := make([]*ExposureRecord, 0, len(x.records))
	for _, r := range x.records {
		rs = append(rs, r)
	}
	x.mu.RUnlock()

	sortNewest(rs)
	return rs
}

// Get returns the dark stack whose id starts with prefix. The newest wins if several match.
func (x *DarkIndex) Get(prefix string) (*ExposureRecord, error) {
	if prefix == "" {
		return nil, fmt.Errorf("%w: empty id", ErrNoDarkAvailable)
	}
	for _, r := range x.Records() {
		if strings.HasPrefix(r.ID, prefix) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: no dark with id %q", ErrNoDarkAvailable, prefix)
}

// Lookup returns the dark stack to use for a light exposure of exposure seconds.
//
// By default the nearest exposure time wins, with the most recent acquisition breaking ties.
func (x *DarkIndex) Lookup(exposure float64, o LookupOptions) (*ExposureRecord, error) {
	if exposure <= 0 {
		return nil, fmt.Errorf("%w: lookup for %gs", ErrZeroExposure, exposure)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.records) == 0 {
		return nil, fmt.Errorf("%w: index is empty", ErrNoDarkAvailable)
	}

	var best *ExposureRecord
	bestDiff := math.Inf(1)
	for _, r := range x.records {
		if !o.AtOrBefore.IsZero() && r.AcquiredAt.After(o.AtOrBefore) {
			continue
		}

		diff := math.Abs(r.ExposureTime - exposure)
		switch {
		case o.Exact && diff > exposureEpsilon:
			continue
		case o.Tolerance > 0 && diff > o.Tolerance+exposureEpsilon:
			continue
		case o.Tolerance > 0:
			// everything within tolerance is equally good
			diff = 0
		}

		switch {
		case best == nil, diff < bestDiff-exposureEpsilon:
			best, bestDiff = r, diff
		case diff <= bestDiff+exposureEpsilon && newer(r, best):
			best, bestDiff = r, math.Min(diff, bestDiff)
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w: no dark for %gs (exact=%v tolerance=%g before=%v)", ErrNoDarkAvailable, exposure, o.Exact, o.Tolerance, o.AtOrBefore)
	}
	return best, nil
}

// Rebuild replaces the index contents with the dark stacks from its source.
// Concurrent rebuilds run one at a time; lookups keep seeing the old contents until the swap.
func (x *DarkIndex) Rebuild(ctx context.Context) error {
	if x.source == nil {
		return fmt.Errorf("%w: no source configured", ErrIndexUnavailable)
	}

	x.rebuildMu.Lock()
	defer x.rebuildMu.Unlock()

	start := time.Now()
	rs, err := x.source.Darks(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}

	records := map[string]*ExposureRecord{}
	for _, r := range rs {
		if err := validateDark(r); err != nil {
			klog.Warningf("skipping %s: %v", r.Path, err)
			continue
		}
		records[r.ID] = r
	}

	x.mu.Lock()
	x.records = records
	x.mu.Unlock()

	klog.Infof("dark index rebuilt with %d stacks in %s", len(records), time.Since(start))
	return nil
}

func validateDark(r *ExposureRecord) error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if !r.IsDark {
		return fmt.Errorf("%w: %s is not a dark stack", ErrInvalidRecord, r.ID)
	}
	if r.ExposureTime <= 0 {
		return fmt.Errorf("%w: %s has exposure %gs", ErrInvalidRecord, r.ID, r.ExposureTime)
	}
	return r.Validate()
}

// newer reports whether a was acquired after b, using the id to keep the order stable.
func newer(a, b *ExposureRecord) bool {
	if a.AcquiredAt.Equal(b.AcquiredAt) {
		return a.ID > b.ID
	}
	return a.AcquiredAt.After(b.AcquiredAt)
}

func sortNewest(rs []*ExposureRecord) {
	sort.Slice(rs, func(i, j int) bool {
		return newer(rs[i], rs[j])
	})
}
