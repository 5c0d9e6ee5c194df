package xpd

import (
	"time"

	"gonum.org/v1/gonum/mat"
)

var t0 = time.Date(2016, 3, 4, 13, 7, 30, 0, time.UTC)

// constFrames returns n frames of rows x cols filled with v.
func constFrames(n, rows, cols int, v float64) []*mat.Dense {
	fs := make([]*mat.Dense, n)
	for i := range fs {
		data := make([]float64, rows*cols)
		for j := range data {
			data[j] = v
		}
		fs[i] = mat.NewDense(rows, cols, data)
	}
	return fs
}

func darkRecord(id string, exposure float64, at time.Time, n int) *ExposureRecord {
	return &ExposureRecord{
		ID:           id,
		AcquiredAt:   at,
		ExposureTime: exposure,
		IsDark:       true,
		Frames:       constFrames(n, 4, 4, 0),
	}
}

func lightRecord(id string, exposure float64, n int, v float64) *ExposureRecord {
	return &ExposureRecord{
		ID:           id,
		AcquiredAt:   t0,
		ExposureTime: exposure,
		Frames:       constFrames(n, 4, 4, v),
		Meta: RunMetadata{
			SampleName:    "Ni standard",
			Experimenters: []string{"Simon Billinge", "Tim"},
		},
	}
}
