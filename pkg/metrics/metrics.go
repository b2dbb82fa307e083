// Package metrics compares a reconstructed volume with the volume it was
// built from.
package metrics

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"volpatch/pkg/volume"
)

// Fidelity holds the agreement between an original and a reconstructed
// volume.
type Fidelity struct {
	// RMSE is the root mean square error over every value.
	RMSE float64

	// MAE is the mean absolute error.
	MAE float64

	// MaxAbsError is the largest absolute difference.
	MaxAbsError float64

	// Correlation is Pearson's r between the two volumes. Two constant
	// volumes correlate 1 when equal and 0 otherwise.
	Correlation float64

	// Exact is true when every value matches within 1e-9.
	Exact bool
}

// Compare measures how closely reconstructed matches original. Both images
// must have the same channels and shape.
func Compare(original, reconstructed *volume.Image) (Fidelity, error) {
	if original.Channels != reconstructed.Channels || original.Shape != reconstructed.Shape {
		return Fidelity{}, errors.Errorf("cannot compare %d×%v with %d×%v",
			original.Channels, original.Shape, reconstructed.Channels, reconstructed.Shape)
	}
	n := len(original.Data)
	if n == 0 {
		return Fidelity{}, errors.New("cannot compare empty images")
	}

	diff := make([]float64, n)
	floats.SubTo(diff, original.Data, reconstructed.Data)

	var f Fidelity
	f.RMSE = floats.Norm(diff, 2) / math.Sqrt(float64(n))
	f.MAE = floats.Norm(diff, 1) / float64(n)
	f.MaxAbsError = floats.Norm(diff, math.Inf(1))
	f.Exact = f.MaxAbsError <= 1e-9
	f.Correlation = correlation(original.Data, reconstructed.Data, f.Exact)
	return f, nil
}

func correlation(a, b []float64, exact bool) float64 {
	if stat.StdDev(a, nil) == 0 || stat.StdDev(b, nil) == 0 {
		if exact {
			return 1
		}
		return 0
	}
	return stat.Correlation(a, b, nil)
}
