package scoring

import (
	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes feature vectors column-wise to zero mean and unit
// variance, matching the statistics of the rows it was fitted on. A fitted
// scaler is immutable; retraining builds a new one.
type Scaler struct {
	mean []float64
	std  []float64
}

// NewScaler fits a scaler to the given training rows. Columns with zero
// spread (including single-row fits) scale by 1 so they pass through shifted
// but not blown up.
func NewScaler(rows [][]float64) *Scaler {
	if len(rows) == 0 {
		return &Scaler{}
	}
	dims := len(rows[0])
	s := &Scaler{
		mean: make([]float64, dims),
		std:  make([]float64, dims),
	}
	col := make([]float64, len(rows))
	for d := 0; d < dims; d++ {
		for i, row := range rows {
			col[i] = row[d]
		}
		s.mean[d] = stat.Mean(col, nil)
		sd := stat.PopStdDev(col, nil)
		if sd == 0 || sd != sd {
			sd = 1
		}
		s.std[d] = sd
	}
	return s
}

// Transform standardizes one vector. Dimensions beyond the fitted width pass
// through unchanged.
func (s *Scaler) Transform(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	for d := 0; d < len(out) && d < len(s.mean); d++ {
		out[d] = (out[d] - s.mean[d]) / s.std[d]
	}
	return out
}

// TransformAll standardizes a batch of rows.
func (s *Scaler) TransformAll(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = s.Transform(row)
	}
	return out
}
