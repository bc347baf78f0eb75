package integrator

import "math"

// Bulirsch-Stoer: modified midpoint (Gragg) as the base method, with
// polynomial extrapolation on the h^2 error expansion. Trial substates
// only ever reach the right-hand side; the observer sees accepted macro
// steps alone.

type bulirschStoer struct {
	props Properties
}

func (s *bulirschStoer) Properties() Properties { return s.props }

var bsSequence = []int{2, 4, 6, 8, 10, 12, 14, 16}

func (s *bulirschStoer) modifiedMidpoint(sys System, x []float64, t, bigH float64, n int) []float64 {
	dim := len(x)
	h := bigH / float64(n)

	f := make([]float64, dim)
	z0 := make([]float64, dim)
	z1 := make([]float64, dim)
	z2 := make([]float64, dim)

	copy(z0, x)
	sys.Evaluate(t, z0, f)
	for j := 0; j < dim; j++ {
		z1[j] = z0[j] + h*f[j]
	}

	for m := 1; m < n; m++ {
		sys.Evaluate(t+float64(m)*h, z1, f)
		for j := 0; j < dim; j++ {
			z2[j] = z0[j] + 2*h*f[j]
		}
		z0, z1, z2 = z1, z2, z0
	}

	sys.Evaluate(t+bigH, z1, f)
	y := make([]float64, dim)
	for j := 0; j < dim; j++ {
		y[j] = 0.5 * (z0[j] + z1[j] + h*f[j])
	}
	return y
}

func (s *bulirschStoer) Integrate(sys System, x []float64, t, stepSize, dt float64) float64 {
	end := t + stepSize
	eps := timeEps(end, stepSize)
	dim := len(x)

	bigH := dt
	if bigH <= 0 || bigH > stepSize {
		bigH = stepSize
	}
	hMin := eps

	for end-t > eps {
		if bigH > end-t {
			bigH = end - t
		}

		// Extrapolation tableau: row[k] holds T_{j,k} for the current j.
		var prevRow [][]float64
		var accepted []float64
		converged := false
		rowsUsed := 0

		for j := 0; j < len(bsSequence); j++ {
			row := make([][]float64, j+1)
			row[0] = s.modifiedMidpoint(sys, x, t, bigH, bsSequence[j])

			for k := 1; k <= j; k++ {
				ratio := float64(bsSequence[j]) / float64(bsSequence[j-k])
				denom := ratio*ratio - 1
				row[k] = make([]float64, dim)
				for i := 0; i < dim; i++ {
					row[k][i] = row[k-1][i] + (row[k-1][i]-prevRow[k-1][i])/denom
				}
			}
			prevRow = row
			rowsUsed = j + 1

			if j > 0 {
				errNorm := 0.0
				for i := 0; i < dim; i++ {
					scale := s.props.AbsTol + s.props.RelTol*math.Max(math.Abs(x[i]), math.Abs(row[j][i]))
					if scale > 0 {
						e := math.Abs(row[j][i]-row[j-1][i]) / scale
						if e > errNorm {
							errNorm = e
						}
					}
				}
				if errNorm <= 1 {
					accepted = row[j]
					converged = true
					break
				}
			}
		}

		if !converged && bigH > hMin {
			bigH /= 2
			continue
		}
		if accepted == nil {
			accepted = prevRow[len(prevRow)-1]
		}

		t += bigH
		copy(x, accepted)
		if sys.StepCompleted(t, x) {
			return t
		}

		if converged && rowsUsed < len(bsSequence)/2 {
			bigH *= 1.5
		}
	}
	return t
}
