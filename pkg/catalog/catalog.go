// Package catalog keeps a local sqlite index of acquired runs and the files
// written from them, so runs can be searched after the fact.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xpdacq/xpdacq/pkg/xpd"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"k8s.io/klog/v2"
)

// Output kinds.
const (
	KindImage   = "image"
	KindDark    = "dark"
	KindPreview = "preview"
	KindConfig  = "config"
)

// ErrNotFound is returned when no run matches an id.
var ErrNotFound = errors.New("run not found")

// Run is one catalogued exposure stack.
type Run struct {
	ID            string    `gorm:"primaryKey"`
	AcquiredAt    time.Time `gorm:"index"`
	ExposureTime  float64
	IsDark        bool `gorm:"index"`
	Frames        int
	Path          string
	SampleName    string   `gorm:"index"`
	Experimenters []string `gorm:"serializer:json"`
	PI            string
	SAF           string `gorm:"index"`
	Composition   string
	Comments      map[string]string `gorm:"serializer:json"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Output is a file written from a run.
type Output struct {
	ID        uint   `gorm:"primaryKey"`
	RunID     string `gorm:"index"`
	Run       *Run   `gorm:"foreignKey:RunID;references:ID"`
	DarkID    string
	Path      string `gorm:"uniqueIndex"`
	Kind      string `gorm:"index"`
	CreatedAt time.Time
}

// Catalog is a run catalog backed by sqlite.
type Catalog struct {
	db   *gorm.DB
	path string
}

// klogWriter sends gorm's warnings to klog.
type klogWriter struct{}

func (klogWriter) Printf(format string, args ...any) {
	klog.Warningf(format, args...)
}

// Open opens or creates the catalog at path.
func Open(path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.New(klogWriter{}, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Run{}, &Output{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	klog.V(1).Infof("opened catalog %s", path)
	return &Catalog{db: db, path: path}, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AddRun records r, replacing any earlier entry with the same id.
func (c *Catalog) AddRun(ctx context.Context, r *xpd.ExposureRecord) error {
	run := fromRecord(r)
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(run).Error
	if err != nil {
		return fmt.Errorf("add run %s: %w", r.ID, err)
	}
	return nil
}

// AddOutput records a file written from the run with the given id.
func (c *Catalog) AddOutput(ctx context.Context, runID string, path string, kind string) error {
	return c.addOutput(ctx, &Output{RunID: runID, Path: path, Kind: kind})
}

func (c *Catalog) addOutput(ctx context.Context, o *Output) error {
	abs, err := filepath.Abs(o.Path)
	if err != nil {
		return fmt.Errorf("abs: %w", err)
	}
	o.Path = abs
	err = c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"run_id", "dark_id", "kind"}),
	}).Create(o).Error
	if err != nil {
		return fmt.Errorf("add output %s: %w", o.Path, err)
	}
	return nil
}

// AddSaved records both runs of a dark correction and every file it wrote.
func (c *Catalog) AddSaved(ctx context.Context, s *xpd.Saved) error {
	if err := c.AddRun(ctx, s.Light); err != nil {
		return err
	}
	if err := c.AddRun(ctx, s.Dark); err != nil {
		return err
	}
	for _, p := range s.Images {
		if err := c.addOutput(ctx, &Output{RunID: s.Light.ID, DarkID: s.Dark.ID, Path: p, Kind: KindImage}); err != nil {
			return err
		}
	}
	if s.Config != "" {
		return c.addOutput(ctx, &Output{RunID: s.Light.ID, DarkID: s.Dark.ID, Path: s.Config, Kind: KindConfig})
	}
	return nil
}

// Run returns the run whose id starts with prefix.
func (c *Catalog) Run(ctx context.Context, prefix string) (*Run, error) {
	var runs []Run
	err := c.db.WithContext(ctx).Where("id LIKE ?", prefix+"%").Limit(2).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", prefix, err)
	}
	switch len(runs) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return &runs[0], nil
	default:
		return nil, fmt.Errorf("id prefix %q is ambiguous", prefix)
	}
}

// Outputs returns files of the given kind, newest first, with their runs loaded.
// An empty kind returns every output.
func (c *Catalog) Outputs(ctx context.Context, kind string) ([]Output, error) {
	tx := c.db.WithContext(ctx).Preload("Run").Order("created_at DESC, id DESC")
	if kind != "" {
		tx = tx.Where("kind = ?", kind)
	}
	var outs []Output
	if err := tx.Find(&outs).Error; err != nil {
		return nil, fmt.Errorf("outputs: %w", err)
	}
	return outs, nil
}

// Darks loads every catalogued dark stack still on disk. It lets the catalog
// serve as the source for a dark index.
func (c *Catalog) Darks(ctx context.Context) ([]*xpd.ExposureRecord, error) {
	dark := true
	runs, err := c.Search(ctx, Query{Dark: &dark})
	if err != nil {
		return nil, err
	}

	rs := []*xpd.ExposureRecord{}
	for _, run := range runs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if run.Path == "" {
			continue
		}
		r, err := xpd.ReadStack(run.Path)
		if err != nil {
			klog.Warningf("skipping catalogued dark %s: %v", run.ID, err)
			continue
		}
		rs = append(rs, r)
	}
	return rs, nil
}

// Metadata rebuilds the run metadata stored for r.
func (r *Run) Metadata() xpd.RunMetadata {
	return xpd.RunMetadata{
		SampleName:    r.SampleName,
		Experimenters: r.Experimenters,
		PI:            r.PI,
		SAF:           r.SAF,
		Composition:   r.Composition,
		Comments:      r.Comments,
	}
}

// Record returns r as an exposure record without frames.
func (r *Run) Record() *xpd.ExposureRecord {
	return &xpd.ExposureRecord{
		ID:           r.ID,
		AcquiredAt:   r.AcquiredAt,
		ExposureTime: r.ExposureTime,
		IsDark:       r.IsDark,
		Meta:         r.Metadata(),
		Path:         r.Path,
	}
}

func fromRecord(r *xpd.ExposureRecord) *Run {
	path := r.Path
	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	return &Run{
		ID:            r.ID,
		AcquiredAt:    r.AcquiredAt.UTC(),
		ExposureTime:  r.ExposureTime,
		IsDark:        r.IsDark,
		Frames:        r.FrameCount(),
		Path:          path,
		SampleName:    r.Meta.SampleName,
		Experimenters: r.Meta.Experimenters,
		PI:            r.Meta.PI,
		SAF:           r.Meta.SAF,
		Composition:   r.Meta.Composition,
		Comments:      r.Meta.Comments,
	}
}
