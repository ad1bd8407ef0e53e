package initwfn

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// TanhGain is the orthogonal initialization gain matched to tanh
// activations.
const TanhGain float64 = 5.0 / 3.0

// OrthogonalConfig implements a configuration of the orthogonal weight
// initialization algorithm: weights are the semi-orthogonal factor of
// the QR decomposition of a random Gaussian matrix, scaled by Gain.
type OrthogonalConfig struct {
	Gain float64
	Seed uint64
}

// NewOrthogonal returns a new orthogonal weight initializer with the
// given gain. Hidden layers followed by tanh use TanhGain; linear
// output heads generally use 1.0 or smaller.
func NewOrthogonal(gain float64, seed uint64) (*InitWFn, error) {
	config := OrthogonalConfig{
		Gain: gain,
		Seed: seed,
	}

	return newInitWFn(config)
}

// Type returns the type of initialization algorithm described by the
// configuration.
func (o OrthogonalConfig) Type() Type {
	return Orthogonal
}

// Create returns the weight initialization algorithm as a Gorgonia
// InitWFn
func (o OrthogonalConfig) Create() G.InitWFn {
	source := rand.NewSource(o.Seed)
	normal := distuv.Normal{Mu: 0.0, Sigma: 1.0, Src: source}

	return func(dt tensor.Dtype, s ...int) interface{} {
		if dt != tensor.Float64 {
			panic(fmt.Sprintf("orthogonal: unsupported dtype %v", dt))
		}
		if len(s) != 2 {
			panic(fmt.Sprintf("orthogonal: weights must be matrices "+
				"\n\twant(2 dims)\n\thave(%v)", len(s)))
		}
		return orthogonalMatrix(s[0], s[1], o.Gain, normal)
	}
}

// orthogonalMatrix returns a rows x cols semi-orthogonal matrix scaled
// by gain, flattened in row-major order.
func orthogonalMatrix(rows, cols int, gain float64,
	normal distuv.Normal) []float64 {
	n, m := rows, cols
	transposed := false
	if n < m {
		// QR needs at least as many rows as columns; build the
		// transpose and flip at the end.
		n, m = m, n
		transposed = true
	}

	data := make([]float64, n*m)
	for i := range data {
		data[i] = normal.Rand()
	}
	a := mat.NewDense(n, m, data)

	var qr mat.QR
	qr.Factorize(a)

	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	// Make the factorization unique so columns are uniformly
	// distributed over orthogonal matrices.
	for j := 0; j < m; j++ {
		if r.At(j, j) < 0 {
			for i := 0; i < n; i++ {
				q.Set(i, j, -q.At(i, j))
			}
		}
	}

	out := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if transposed {
				out[i*cols+j] = gain * q.At(j, i)
			} else {
				out[i*cols+j] = gain * q.At(i, j)
			}
		}
	}
	return out
}
