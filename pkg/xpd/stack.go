package xpd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Header cards describing a frame stack.
const (
	cardID           = "RUNUID"
	cardEnd          = "DATE-END"
	cardExposure     = "EXPTIME"
	cardDark         = "ISDARK"
	cardSample       = "SAMPLE"
	cardExperimenter = "EXPERMTR"
	cardPI           = "PINAME"
	cardSAF          = "SAFNUM"
	cardComposition  = "COMPOSIT"
	cardMotorUnit    = "MOTORUNI"
	cardMotorFmt     = "MOTOR%03d"
)

// StackExt is the file extension of frame stacks.
var StackExt = ".fits"

// ReadStack reads a frame stack from a FITS cube.
//
// Frames are stored along the third axis. Stacks without an id card get a
// name-based UUID derived from their absolute path.
func ReadStack(path string) (*ExposureRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	ff, err := fitsio.Open(f)
	if err != nil {
		return nil, fmt.Errorf("fits open %s: %w", path, err)
	}
	defer ff.Close()

	img, ok := ff.HDU(0).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("%s: primary HDU is not an image", path)
	}

	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) < 2 || len(axes) > 3 {
		return nil, fmt.Errorf("%w: %s has %d axes", ErrInvalidRecord, path, len(axes))
	}
	cols, rows, n := axes[0], axes[1], 1
	if len(axes) == 3 {
		n = axes[2]
	}

	data, err := readPixels(img, rows*cols*n)
	if err != nil {
		return nil, fmt.Errorf("read pixels %s: %w", path, err)
	}
	if len(data) != rows*cols*n {
		return nil, fmt.Errorf("%w: %s has %d pixels, want %d", ErrInvalidRecord, path, len(data), rows*cols*n)
	}

	r := &ExposureRecord{
		ID:           cardString(hdr, cardID),
		ExposureTime: cardFloat(hdr, cardExposure),
		IsDark:       cardBool(hdr, cardDark),
		Path:         path,
		MotorUnit:    cardString(hdr, cardMotorUnit),
		Meta: RunMetadata{
			SampleName:  cardString(hdr, cardSample),
			PI:          cardString(hdr, cardPI),
			SAF:         cardString(hdr, cardSAF),
			Composition: cardString(hdr, cardComposition),
		},
	}

	if es := cardString(hdr, cardExperimenter); es != "" {
		for _, e := range strings.Split(es, ",") {
			r.Meta.Experimenters = append(r.Meta.Experimenters, strings.TrimSpace(e))
		}
	}

	if r.ID == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("abs: %w", err)
		}
		r.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+abs)).String()
		klog.V(1).Infof("%s has no %s card, using %s", path, cardID, r.ID)
	}

	if ds := cardString(hdr, cardEnd); ds != "" {
		r.AcquiredAt, err = time.Parse(time.RFC3339Nano, ds)
		if err != nil {
			return nil, fmt.Errorf("parse %s %q: %w", cardEnd, ds, err)
		}
	} else {
		fi, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat: %w", err)
		}
		r.AcquiredAt = fi.ModTime()
	}

	size := rows * cols
	for k := 0; k < n; k++ {
		r.Frames = append(r.Frames, mat.NewDense(rows, cols, data[k*size:(k+1)*size]))
		if c := hdr.Get(fmt.Sprintf(cardMotorFmt, k)); c != nil {
			r.MotorValues = append(r.MotorValues, toFloat(c.Value))
		}
	}
	if len(r.MotorValues) != n {
		r.MotorValues = nil
	}

	return r, nil
}

// WriteStack writes a record as a 64-bit float FITS cube and verifies the file exists.
func WriteStack(path string, r *ExposureRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}
	rows, cols := r.Shape()

	cards := []fitsio.Card{
		{Name: cardID, Value: r.ID, Comment: "run identifier"},
		{Name: cardEnd, Value: r.AcquiredAt.Format(time.RFC3339Nano), Comment: "stack completion time"},
		{Name: cardExposure, Value: r.ExposureTime, Comment: "per-frame exposure [s]"},
		{Name: cardDark, Value: r.IsDark, Comment: "shutter closed"},
	}
	for name, v := range map[string]string{
		cardSample:       r.Meta.SampleName,
		cardExperimenter: strings.Join(r.Meta.Experimenters, ","),
		cardPI:           r.Meta.PI,
		cardSAF:          r.Meta.SAF,
		cardComposition:  r.Meta.Composition,
		cardMotorUnit:    r.MotorUnit,
	} {
		if v != "" {
			cards = append(cards, fitsio.Card{Name: name, Value: v})
		}
	}
	for k, v := range r.MotorValues {
		cards = append(cards, fitsio.Card{Name: fmt.Sprintf(cardMotorFmt, k), Value: v})
	}
	sortCards(cards[4:])

	data := make([]float64, 0, rows*cols*r.FrameCount())
	for _, fr := range r.Frames {
		for i := 0; i < rows; i++ {
			data = append(data, fr.RawRowView(i)...)
		}
	}

	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	if err := writeCube(f, cards, data, cols, rows, r.FrameCount()); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write fits: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return VerifyWritten(path)
}

func writeCube(f *os.File, cards []fitsio.Card, data []float64, cols, rows, n int) error {
	ff, err := fitsio.Create(f)
	if err != nil {
		return err
	}
	defer ff.Close()

	im := fitsio.NewImage(-64, []int{cols, rows, n})
	defer im.Close()

	if err := im.Header().Append(cards...); err != nil {
		return err
	}
	if err := im.Write(data); err != nil {
		return err
	}
	return ff.Write(im)
}

// readPixels reads nelm pixels as float64. fitsio fills the slice it is given, so
// every buffer is allocated to the full size up front.
func readPixels(img fitsio.Image, nelm int) ([]float64, error) {
	hdr := img.Header()
	var out []float64

	switch hdr.Bitpix() {
	case -64:
		out = make([]float64, nelm)
		if err := img.Read(&out); err != nil {
			return nil, err
		}
	case -32:
		raw := make([]float32, nelm)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		out = widen(raw)
	case 32:
		raw := make([]int32, nelm)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		out = widen(raw)
	case 16:
		raw := make([]int16, nelm)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		out = widen(raw)
	default:
		return nil, fmt.Errorf("unsupported BITPIX %d", hdr.Bitpix())
	}

	zero := 0.0
	scale := 1.0
	if c := hdr.Get("BZERO"); c != nil {
		zero = toFloat(c.Value)
	}
	if c := hdr.Get("BSCALE"); c != nil {
		scale = toFloat(c.Value)
	}
	if zero != 0 || scale != 1 {
		for i := range out {
			out[i] = out[i]*scale + zero
		}
	}
	return out, nil
}

func widen[T float32 | int32 | int16](raw []T) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v)
	}
	return out
}

func cardString(h *fitsio.Header, name string) string {
	c := h.Get(name)
	if c == nil {
		return ""
	}
	if s, ok := c.Value.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(c.Value))
}

func cardFloat(h *fitsio.Header, name string) float64 {
	c := h.Get(name)
	if c == nil {
		return 0
	}
	return toFloat(c.Value)
}

func cardBool(h *fitsio.Header, name string) bool {
	c := h.Get(name)
	if c == nil {
		return false
	}
	switch v := c.Value.(type) {
	case bool:
		return v
	case string:
		return v == "T" || strings.EqualFold(v, "true")
	default:
		return toFloat(v) != 0
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	default:
		return 0
	}
}

// sortCards keeps header order stable across writes of the same record.
func sortCards(cs []fitsio.Card) {
	slices.SortFunc(cs, func(a, b fitsio.Card) int {
		return strings.Compare(a.Name, b.Name)
	})
}
