package integrator

import (
	"fmt"
)

// Type identifies an integration method.
type Type string

const (
	TypeEuler                 Type = "eu"
	TypeRungeKutta            Type = "rk"
	TypeDormandPrince         Type = "dp"
	TypeFehlberg              Type = "fe"
	TypeBulirschStoer         Type = "bs"
	TypeAdamsBashforthMoulton Type = "abm"
)

// Default local error tolerances for the adaptive steppers.
const (
	DefaultAbsTol = 1e-10
	DefaultRelTol = 1e-10
)

// Properties describes a stepper's published configuration. Two
// configurations are equal only if all five fields match.
type Properties struct {
	Name   string
	Type   Type
	Order  int
	AbsTol float64
	RelTol float64
}

// Equal compares all five published fields.
func (p Properties) Equal(q Properties) bool {
	return p.Name == q.Name && p.Type == q.Type && p.Order == q.Order &&
		p.AbsTol == q.AbsTol && p.RelTol == q.RelTol
}

// System is the black-box continuous model a stepper drives. Evaluate
// is the right-hand side of the ODE: it must set the model's time and
// continuous state, then read the derivatives into dx. StepCompleted is
// the observer: it commits an accepted state and reports whether
// integration must stop, typically because the model flagged an event.
type System interface {
	Evaluate(t float64, x []float64, dx []float64)
	StepCompleted(t float64, x []float64) bool
}

// Stepper advances a system over one integration interval.
type Stepper interface {
	Properties() Properties

	// Integrate advances x in place from t over stepSize, internally
	// subdividing by dt (initial step size for the adaptive methods,
	// fixed substep otherwise). It returns the time actually reached,
	// which is earlier than t+stepSize when the observer stopped the
	// run.
	Integrate(sys System, x []float64, t, stepSize, dt float64) float64
}

// New creates a stepper of the given type with default tolerances.
func New(t Type) (Stepper, error) {
	return NewWithTolerances(t, DefaultAbsTol, DefaultRelTol)
}

// NewWithTolerances creates a stepper with explicit local error
// tolerances. Fixed-step methods carry the tolerances as published
// properties only.
func NewWithTolerances(t Type, abstol, reltol float64) (Stepper, error) {
	switch t {
	case TypeEuler:
		return &euler{props: Properties{Name: "Forward Euler", Type: t, Order: 1, AbsTol: abstol, RelTol: reltol}}, nil
	case TypeRungeKutta:
		return &rungeKutta4{props: Properties{Name: "Runge-Kutta 4", Type: t, Order: 4, AbsTol: abstol, RelTol: reltol}}, nil
	case TypeDormandPrince:
		return newEmbedded(Properties{Name: "Dormand-Prince 5(4)", Type: t, Order: 5, AbsTol: abstol, RelTol: reltol}, dormandPrinceTableau()), nil
	case TypeFehlberg:
		return newEmbedded(Properties{Name: "Runge-Kutta-Fehlberg 7(8)", Type: t, Order: 7, AbsTol: abstol, RelTol: reltol}, fehlberg78Tableau()), nil
	case TypeBulirschStoer:
		return &bulirschStoer{props: Properties{Name: "Bulirsch-Stoer", Type: t, Order: 8, AbsTol: abstol, RelTol: reltol}}, nil
	case TypeAdamsBashforthMoulton:
		return &adamsBashforthMoulton{props: Properties{Name: "Adams-Bashforth-Moulton 4", Type: t, Order: 4, AbsTol: abstol, RelTol: reltol}}, nil
	}
	return nil, fmt.Errorf("integrator: unknown stepper type %q", t)
}

// Types lists every available stepper type.
func Types() []Type {
	return []Type{TypeEuler, TypeRungeKutta, TypeDormandPrince, TypeFehlberg, TypeBulirschStoer, TypeAdamsBashforthMoulton}
}

// timeEps is the relative slack used to decide an interval is finished.
func timeEps(t, stepSize float64) float64 {
	scale := t
	if scale < 0 {
		scale = -scale
	}
	s := stepSize
	if s < 0 {
		s = -s
	}
	return 1e-13 * (scale + s + 1)
}
