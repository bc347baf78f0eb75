package integrator

// Adams-Bashforth-Moulton four-step predictor-corrector in PECE mode,
// bootstrapped with classical Runge-Kutta steps until enough derivative
// history exists.

type adamsBashforthMoulton struct {
	props Properties
}

func (s *adamsBashforthMoulton) Properties() Properties { return s.props }

func (s *adamsBashforthMoulton) Integrate(sys System, x []float64, t, stepSize, dt float64) float64 {
	n, h := substeps(stepSize, dt)
	dim := len(x)

	// Derivative history at the last four committed points, newest last.
	hist := make([][]float64, 0, 4)
	pushHist := func(f []float64) {
		if len(hist) == 4 {
			old := hist[0]
			copy(hist, hist[1:])
			hist[3] = old
			copy(hist[3], f)
			return
		}
		cp := make([]float64, dim)
		copy(cp, f)
		hist = append(hist, cp)
	}

	f := make([]float64, dim)
	sys.Evaluate(t, x, f)
	pushHist(f)

	k1 := make([]float64, dim)
	k2 := make([]float64, dim)
	k3 := make([]float64, dim)
	k4 := make([]float64, dim)
	tmp := make([]float64, dim)
	xp := make([]float64, dim)
	fp := make([]float64, dim)

	for i := 0; i < n; i++ {
		if len(hist) < 4 {
			// Runge-Kutta starter.
			copy(k1, hist[len(hist)-1])
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
		} else {
			f3, f2, f1, f0 := hist[0], hist[1], hist[2], hist[3]

			// Predict (Adams-Bashforth).
			for j := range xp {
				xp[j] = x[j] + h/24*(55*f0[j]-59*f1[j]+37*f2[j]-9*f3[j])
			}
			sys.Evaluate(t+h, xp, fp)

			// Correct (Adams-Moulton).
			for j := range x {
				x[j] += h / 24 * (9*fp[j] + 19*f0[j] - 5*f1[j] + f2[j])
			}
		}

		t += h
		if sys.StepCompleted(t, x) {
			return t
		}
		sys.Evaluate(t, x, f)
		pushHist(f)
	}
	return t
}
