package xpd

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"os"

	"github.com/anthonynsimon/bild/imgio"
	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// TIFFEncoder writes deflate-compressed TIFF files.
func TIFFEncoder() imgio.Encoder {
	return func(w io.Writer, img image.Image) error {
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	}
}

// Gray16 converts a frame to a 16-bit image. Values are rounded and clamped to [0, 65535].
func Gray16(m *mat.Dense) *image.Gray16 {
	rows, cols := m.Dims()
	img := image.NewGray16(image.Rect(0, 0, cols, rows))
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			v := math.Round(m.At(y, x))
			switch {
			case math.IsNaN(v), v < 0:
				v = 0
			case v > math.MaxUint16:
				v = math.MaxUint16
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(v)})
		}
	}
	return img
}

// WriteTIFF writes a frame as a 16-bit grayscale TIFF. The file is written under a
// temporary name first, so an existing file at path is replaced only by a complete one.
func WriteTIFF(path string, m *mat.Dense) error {
	tmp := path + ".part"
	if err := imgio.Save(tmp, Gray16(m), TIFFEncoder()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return VerifyWritten(path)
}

// VerifyWritten confirms a file exists after a write.
func VerifyWritten(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWriteVerification, path, err)
	}
	if st.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrWriteVerification, path)
	}
	klog.V(1).Infof("%s written (%d bytes)", path, st.Size())
	return nil
}
