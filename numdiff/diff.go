package numdiff

import (
	"errors"
	"math"
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)
var cubeEps = math.Pow(math.Nextafter(1, 2)-1, float64(1)/3)

type Method int

const (
	// Forward use the first order accuracy one-sided difference.
	Forward Method = iota
	// Central use the second order accuracy central difference,
	// at the cost of one extra residual evaluation per product.
	Central
)

// JvSpec approximates the action of the Jacobian J = ∂F/∂u on a vector v
// by a directional finite difference of F:
//
//	J(u)·v ≈ (F(u+σv) - F(u))/σ        (Forward)
//	J(u)·v ≈ (F(u+σv) - F(u-σv))/2σ    (Central)
//
// The increment σ balances truncation against roundoff in the scaled space
// defined by D_u:
//
//	σ = 𝚜𝚒𝚐𝚗(uᵀv)·√ε·𝚖𝚊𝚡(|uᵀv|, ‖v‖₁)/‖v‖₂²
//
// with all inner products and norms taken on D_u·u and D_u·v.
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
//   - Brown & Saad, Hybrid Krylov Methods for Nonlinear Systems of Equations (1990)
type JvSpec struct {
	N int
	// Function of which to estimate the directional derivative.
	// The argument u passed to this function is an n-vector.
	// The residual is stored in an n-vector f.
	// A non-nil error marks u as an invalid evaluation point.
	Object func(u, f []float64) error
	// Finite difference method to use.
	Method Method
	// Optional variable scaling D_u with positive entries, chosen so the
	// components of D_u·u have comparable magnitudes near a solution.
	// Nil means unit scaling.
	Scale []float64
	// Relative step size overriding √ε (resp. ∛ε for Central).
	RelStep float64
	jvCtx
}

type jvCtx struct {
	up, f1, f2 []float64
}

// Check the parameters and initialize jvCtx.
func (jv *JvSpec) Check() (err error) {

	switch {
	case jv.N <= 0:
		err = errors.New("negative dimensions")
	case jv.Method != Forward && jv.Method != Central:
		err = errors.New("unknown method")
	case jv.Object == nil:
		err = errors.New("object function is required")
	case jv.Scale != nil && len(jv.Scale) != jv.N:
		err = errors.New("invalid scale dimensions")
	case jv.RelStep < 0:
		err = errors.New("negative relative step")
	}
	if err == nil && jv.Scale != nil {
		for _, s := range jv.Scale {
			if s <= 0 || math.IsNaN(s) {
				err = errors.New("scale entries must be positive")
				break
			}
		}
	}
	if err != nil {
		return
	}

	if len(jv.up) != jv.N {
		jv.up = make([]float64, jv.N)
		jv.f1 = make([]float64, jv.N)
	}
	if jv.Method == Central && len(jv.f2) != jv.N {
		jv.f2 = make([]float64, jv.N)
	}
	return
}

// Times estimates jv = J(u)·v.
//
// fu must hold F(u) for the Forward method and is ignored by Central.
// When ‖v‖₂ = 0 the result is the zero vector and no evaluation occurs.
// A recoverable evaluation error at a perturbed point is retried once
// with σ/2 before being reported.
func (jv *JvSpec) Times(u, fu, v, out []float64) error {

	n := jv.N
	if n > len(u) || n > len(v) || n > len(out) || (jv.Method == Forward && n > len(fu)) {
		panic("bound check error")
	}

	sigma, ok := jv.increment(u, v)
	if !ok {
		for i := range out[:n] {
			out[i] = 0
		}
		return nil
	}

	err := jv.difference(u, fu, v, out, sigma)
	if err != nil {
		err = jv.difference(u, fu, v, out, sigma/2)
	}
	return err
}

// increment computes the difference step σ.
// The second return is false iff v vanishes under the scaling.
func (jv *JvSpec) increment(u, v []float64) (float64, bool) {

	n, sc := jv.N, jv.Scale
	var utv, vtv, vl1 float64
	if sc != nil {
		for i := 0; i < n; i++ {
			du, dv := sc[i]*u[i], sc[i]*v[i]
			utv += du * dv
			vtv += dv * dv
			vl1 += math.Abs(dv)
		}
	} else {
		for i := 0; i < n; i++ {
			utv += u[i] * v[i]
			vtv += v[i] * v[i]
			vl1 += math.Abs(v[i])
		}
	}
	if vtv == 0 {
		return 0, false
	}

	e := jv.RelStep
	if e == 0 {
		if e = sqrtEps; jv.Method == Central {
			e = cubeEps
		}
	}
	sigma := e * math.Max(math.Abs(utv), vl1) / vtv
	if sigma == 0 || math.IsInf(sigma, 0) || math.IsNaN(sigma) {
		sigma = e
	}
	if utv < 0 {
		sigma = -sigma
	}
	return sigma, true
}

func (jv *JvSpec) difference(u, fu, v, out []float64, sigma float64) error {

	n, fun := jv.N, jv.Object
	up, f1 := jv.up, jv.f1
	if n > len(up) || n > len(f1) {
		panic("bound check error")
	}

	for i := 0; i < n; i++ {
		up[i] = u[i] + sigma*v[i]
	}
	if err := fun(up, f1); err != nil {
		return err
	}

	if jv.Method == Forward {
		d := 1.0 / sigma
		for i := 0; i < n; i++ {
			out[i] = (f1[i] - fu[i]) * d
		}
		return nil
	}

	f2 := jv.f2
	if n > len(f2) {
		panic("bound check error")
	}
	for i := 0; i < n; i++ {
		up[i] = u[i] - sigma*v[i]
	}
	if err := fun(up, f2); err != nil {
		return err
	}
	d := 1.0 / (2 * sigma)
	for i := 0; i < n; i++ {
		out[i] = (f1[i] - f2[i]) * d
	}
	return nil
}
