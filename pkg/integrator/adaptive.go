package integrator

import "math"

// Embedded Runge-Kutta pairs with local error control. The error
// estimate comes from the difference of the two weight rows; the step
// size follows the usual controller with safety factor and growth
// bounds.

type tableau struct {
	c    []float64
	a    [][]float64
	b    []float64 // propagating weights
	bErr []float64 // b minus the embedded comparison weights
}

type embeddedRK struct {
	props Properties
	tab   tableau
}

func newEmbedded(props Properties, tab tableau) *embeddedRK {
	return &embeddedRK{props: props, tab: tab}
}

func (s *embeddedRK) Properties() Properties { return s.props }

const (
	stepSafety    = 0.9
	stepShrinkMin = 0.2
	stepGrowMax   = 5.0
)

func (s *embeddedRK) Integrate(sys System, x []float64, t, stepSize, dt float64) float64 {
	end := t + stepSize
	eps := timeEps(end, stepSize)
	dim := len(x)
	stages := len(s.tab.b)

	k := make([][]float64, stages)
	for i := range k {
		k[i] = make([]float64, dim)
	}
	tmp := make([]float64, dim)
	xnew := make([]float64, dim)

	h := dt
	if h <= 0 || h > stepSize {
		h = stepSize
	}
	hMin := eps

	for end-t > eps {
		if h > end-t {
			h = end - t
		}

		for i := 0; i < stages; i++ {
			for j := 0; j < dim; j++ {
				acc := x[j]
				for l := 0; l < i; l++ {
					if s.tab.a[i][l] != 0 {
						acc += h * s.tab.a[i][l] * k[l][j]
					}
				}
				tmp[j] = acc
			}
			sys.Evaluate(t+s.tab.c[i]*h, tmp, k[i])
		}

		errNorm := 0.0
		for j := 0; j < dim; j++ {
			acc := x[j]
			errAcc := 0.0
			for i := 0; i < stages; i++ {
				if s.tab.b[i] != 0 {
					acc += h * s.tab.b[i] * k[i][j]
				}
				if s.tab.bErr[i] != 0 {
					errAcc += h * s.tab.bErr[i] * k[i][j]
				}
			}
			xnew[j] = acc

			scale := s.props.AbsTol + s.props.RelTol*math.Max(math.Abs(x[j]), math.Abs(acc))
			if scale > 0 {
				e := math.Abs(errAcc) / scale
				if e > errNorm {
					errNorm = e
				}
			}
		}

		if errNorm <= 1 || h <= hMin {
			t += h
			copy(x, xnew)
			if sys.StepCompleted(t, x) {
				return t
			}
		}

		// Step size controller.
		var factor float64
		if errNorm == 0 {
			factor = stepGrowMax
		} else {
			factor = stepSafety * math.Pow(errNorm, -1/float64(s.props.Order))
			factor = math.Min(math.Max(factor, stepShrinkMin), stepGrowMax)
		}
		h *= factor
		if h < hMin {
			h = hMin
		}
	}
	return t
}

func dormandPrinceTableau() tableau {
	b := []float64{35.0 / 384, 0, 500.0 / 1113, 125.0 / 192, -2187.0 / 6784, 11.0 / 84, 0}
	bhat := []float64{5179.0 / 57600, 0, 7571.0 / 16695, 393.0 / 640, -92097.0 / 339200, 187.0 / 2100, 1.0 / 40}
	bErr := make([]float64, len(b))
	for i := range b {
		bErr[i] = b[i] - bhat[i]
	}
	return tableau{
		c: []float64{0, 1.0 / 5, 3.0 / 10, 4.0 / 5, 8.0 / 9, 1, 1},
		a: [][]float64{
			{},
			{1.0 / 5},
			{3.0 / 40, 9.0 / 40},
			{44.0 / 45, -56.0 / 15, 32.0 / 9},
			{19372.0 / 6561, -25360.0 / 2187, 64448.0 / 6561, -212.0 / 729},
			{9017.0 / 3168, -355.0 / 33, 46732.0 / 5247, 49.0 / 176, -5103.0 / 18656},
			{35.0 / 384, 0, 500.0 / 1113, 125.0 / 192, -2187.0 / 6784, 11.0 / 84},
		},
		b:    b,
		bErr: bErr,
	}
}

func fehlberg78Tableau() tableau {
	b := []float64{41.0 / 840, 0, 0, 0, 0, 34.0 / 105, 9.0 / 35, 9.0 / 35, 9.0 / 280, 9.0 / 280, 41.0 / 840, 0, 0}
	bhat := []float64{0, 0, 0, 0, 0, 34.0 / 105, 9.0 / 35, 9.0 / 35, 9.0 / 280, 9.0 / 280, 0, 41.0 / 840, 41.0 / 840}
	bErr := make([]float64, len(b))
	for i := range b {
		bErr[i] = b[i] - bhat[i]
	}
	return tableau{
		c: []float64{0, 2.0 / 27, 1.0 / 9, 1.0 / 6, 5.0 / 12, 1.0 / 2, 5.0 / 6, 1.0 / 6, 2.0 / 3, 1.0 / 3, 1, 0, 1},
		a: [][]float64{
			{},
			{2.0 / 27},
			{1.0 / 36, 1.0 / 12},
			{1.0 / 24, 0, 1.0 / 8},
			{5.0 / 12, 0, -25.0 / 16, 25.0 / 16},
			{1.0 / 20, 0, 0, 1.0 / 4, 1.0 / 5},
			{-25.0 / 108, 0, 0, 125.0 / 108, -65.0 / 27, 125.0 / 54},
			{31.0 / 300, 0, 0, 0, 61.0 / 225, -2.0 / 9, 13.0 / 900},
			{2, 0, 0, -53.0 / 6, 704.0 / 45, -107.0 / 9, 67.0 / 90, 3},
			{-91.0 / 108, 0, 0, 23.0 / 108, -976.0 / 135, 311.0 / 54, -19.0 / 60, 17.0 / 6, -1.0 / 12},
			{2383.0 / 4100, 0, 0, -341.0 / 164, 4496.0 / 1025, -301.0 / 82, 2133.0 / 4100, 45.0 / 82, 45.0 / 164, 18.0 / 41},
			{3.0 / 205, 0, 0, 0, 0, -6.0 / 41, -3.0 / 205, -3.0 / 41, 3.0 / 41, 6.0 / 41, 0},
			{-1777.0 / 4100, 0, 0, -341.0 / 164, 4496.0 / 1025, -289.0 / 82, 2193.0 / 4100, 51.0 / 82, 33.0 / 164, 12.0 / 41, 0, 1},
		},
		b:    b,
		bErr: bErr,
	}
}
