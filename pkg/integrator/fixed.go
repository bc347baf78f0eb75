package integrator

import "math"

// Fixed-step methods subdivide the interval into uniform substeps no
// larger than dt.

func substeps(stepSize, dt float64) (int, float64) {
	if dt <= 0 || dt >= stepSize {
		return 1, stepSize
	}
	n := int(math.Ceil(stepSize/dt - 1e-12))
	if n < 1 {
		n = 1
	}
	return n, stepSize / float64(n)
}

type euler struct {
	props Properties
}

func (s *euler) Properties() Properties { return s.props }

func (s *euler) Integrate(sys System, x []float64, t, stepSize, dt float64) float64 {
	n, h := substeps(stepSize, dt)
	dx := make([]float64, len(x))

	for i := 0; i < n; i++ {
		sys.Evaluate(t, x, dx)
		for j := range x {
			x[j] += h * dx[j]
		}
		t += h
		if sys.StepCompleted(t, x) {
			return t
		}
	}
	return t
}

type rungeKutta4 struct {
	props Properties
}

func (s *rungeKutta4) Properties() Properties { return s.props }

func (s *rungeKutta4) Integrate(sys System, x []float64, t, stepSize, dt float64) float64 {
	n, h := substeps(stepSize, dt)
	dim := len(x)
	k1 := make([]float64, dim)
	k2 := make([]float64, dim)
	k3 := make([]float64, dim)
	k4 := make([]float64, dim)
	tmp := make([]float64, dim)

	for i := 0; i < n; i++ {
		sys.Evaluate(t, x, k1)

		for j := range tmp {
			tmp[j] = x[j] + 0.5*h*k1[j]
		}
		sys.Evaluate(t+0.5*h, tmp, k2)

		for j := range tmp {
			tmp[j] = x[j] + 0.5*h*k2[j]
		}
		sys.Evaluate(t+0.5*h, tmp, k3)

		for j := range tmp {
			tmp[j] = x[j] + h*k3[j]
		}
		sys.Evaluate(t+h, tmp, k4)

		for j := range x {
			x[j] += h / 6 * (k1[j] + 2*k2[j] + 2*k3[j] + k4[j])
		}
		t += h
		if sys.StepCompleted(t, x) {
			return t
		}
	}
	return t
}
