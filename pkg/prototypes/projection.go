package prototypes

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Projection is a learned linear map y = Wx + b from backbone feature space
// (In) into prototype space (Out). Weight is row-major, Out rows by In columns.
type Projection struct {
	In     int       `msgpack:"in"`
	Out    int       `msgpack:"out"`
	Weight []float64 `msgpack:"weight"`
	Bias   []float64 `msgpack:"bias"`

	w *mat.Dense
	b *mat.VecDense
}

// NewProjection validates the weight shapes and returns a Projection
func NewProjection(in, out int, weight, bias []float64) (*Projection, error) {
	p := &Projection{In: in, Out: out, Weight: weight, Bias: bias}
	if err := p.init(); err != nil {
		return nil, err
	}
	return p, nil
}

// IdentityProjection passes dim-length features through unchanged
func IdentityProjection(dim int) *Projection {
	weight := make([]float64, dim*dim)
	for i := 0; i < dim; i++ {
		weight[i*dim+i] = 1
	}
	p, _ := NewProjection(dim, dim, weight, nil)
	return p
}

func (p *Projection) init() error {
	if p.In <= 0 || p.Out <= 0 {
		return fmt.Errorf("invalid projection shape %dx%d", p.Out, p.In)
	}
	if len(p.Weight) != p.In*p.Out {
		return fmt.Errorf("projection weight has %d values, want %d", len(p.Weight), p.In*p.Out)
	}
	if len(p.Bias) != 0 && len(p.Bias) != p.Out {
		return fmt.Errorf("projection bias has %d values, want %d", len(p.Bias), p.Out)
	}

	p.w = mat.NewDense(p.Out, p.In, p.Weight)
	if len(p.Bias) > 0 {
		p.b = mat.NewVecDense(p.Out, p.Bias)
	}
	return nil
}

// Apply projects x into prototype space. The result is not normalized.
func (p *Projection) Apply(x []float32) ([]float32, error) {
	if p.w == nil {
		return nil, fmt.Errorf("projection used before initialization")
	}
	if len(x) != p.In {
		return nil, fmt.Errorf("%w: feature has %d values, projection expects %d",
			ErrDimensionMismatch, len(x), p.In)
	}

	in := make([]float64, len(x))
	for i, v := range x {
		in[i] = float64(v)
	}

	var y mat.VecDense
	y.MulVec(p.w, mat.NewVecDense(p.In, in))
	if p.b != nil {
		y.AddVec(&y, p.b)
	}

	out := make([]float32, p.Out)
	for i := range out {
		out[i] = float32(y.AtVec(i))
	}
	return out, nil
}
