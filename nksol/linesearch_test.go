// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nksol

import (
	"errors"
	"math"
	"testing"
)

// searchDriver assembles a driver around a bare residual, leaving the
// linear solver out: the globalization only consumes the step pp and the
// directional products prepared by prepareStep.
func searchDriver(n int, fn SysFn, strategy Strategy) *iterDriver {
	ones := make([]float64, n)
	dfill(one, ones)
	s := &Solver{iterSpec{
		n:        n,
		strategy: strategy,
		stop:     Termination{MaxIterations: 200, FNormTolerance: 1e-12, StepTolerance: 1e-15},
		epsilon:  math.Nextafter(1, 2) - 1,
		uscale:   ones,
		fscale:   ones,
		fn:       fn,
	}}
	w := new(Workspace)
	w.n = n
	w.unew = make([]float64, n)
	w.pp = make([]float64, n)
	w.vtemp1 = make([]float64, n)
	return &iterDriver{solver: s, workspace: w, location: &iterLoc{
		u:    make([]float64, n),
		fval: make([]float64, n),
	}}
}

func prepareStep(d *iterDriver, u, p []float64, mxstep, sFdotJp float64) {
	spec, ctx, loc := &d.solver.iterSpec, &d.workspace.iterCtx, d.location
	copy(loc.u, u)
	if spec.fn(loc.u, loc.fval) != nil {
		panic("bad start point")
	}
	loc.fnorm = wl2Norm(spec.n, loc.fval, spec.fscale)
	loc.f1norm = half * loc.fnorm * loc.fnorm
	copy(ctx.pp, p)
	ctx.mxnewtstep = mxstep
	ctx.sFdotJp, ctx.sJpnorm = sFdotJp, one
}

func TestFullStep(t *testing.T) {

	identity := func(u, f []float64) error {
		copy(f, u)
		return nil
	}

	{
		// the exact Newton step of F(u) = u lands on the root
		d := searchDriver(1, identity, FullStep)
		prepareStep(d, []float64{2}, []float64{-2}, 10, -4)
		ctx := &d.workspace.iterCtx
		if d.fullNewton() != ok {
			t.Fatal("full step test fail")
		}
		if ctx.unew[0] != 0 || ctx.fnormp != 0 || ctx.f1normp != 0 {
			t.Fatal("full step test fail")
		}
		if ctx.lam != 1 || ctx.pnorm != 2 || ctx.stepl != 2 {
			t.Fatal("full step test fail")
		}
		if ctx.maxStepTaken || ctx.sFdotJp != -4 || ctx.nfe != 1 {
			t.Fatal("full step test fail")
		}
	}

	{
		// the bound mxnewtstep halves the step and its directional products
		d := searchDriver(1, identity, FullStep)
		prepareStep(d, []float64{2}, []float64{-2}, 1, -4)
		ctx := &d.workspace.iterCtx
		if d.fullNewton() != ok {
			t.Fatal("step bound test fail")
		}
		if ctx.unew[0] != 1 || ctx.pnorm != 1 || ctx.stepl != 1 {
			t.Fatal("step bound test fail")
		}
		if !ctx.maxStepTaken || ctx.sFdotJp != -2 {
			t.Fatal("step bound test fail")
		}
	}

	{
		// a recoverable failure halves the step before the retry
		wall := func(u, f []float64) error {
			if u[0] < 0.5 {
				return errors.New("out of domain")
			}
			copy(f, u)
			return nil
		}
		d := searchDriver(1, wall, FullStep)
		prepareStep(d, []float64{2}, []float64{-2}, 10, -4)
		ctx := &d.workspace.iterCtx
		if d.fullNewton() != ok {
			t.Fatal("step recover test fail")
		}
		if ctx.unew[0] != 1 || ctx.pnorm != 1 || ctx.sFdotJp != -2 || ctx.nfe != 2 {
			t.Fatal("step recover test fail")
		}
	}

	{
		// failures at every halving give the step up
		wall := func(u, f []float64) error {
			if u[0] != 2 {
				return errors.New("out of domain")
			}
			copy(f, u)
			return nil
		}
		d := searchDriver(1, wall, FullStep)
		prepareStep(d, []float64{2}, []float64{-2}, 10, -4)
		if d.fullNewton() != errSysRepeated {
			t.Fatal("step repeat test fail")
		}
		if d.workspace.nfe != maxRecover {
			t.Fatal("step repeat test fail")
		}
	}

	{
		// a panic inside the residual is fatal at once
		boom := func(u, f []float64) error {
			if u[0] < 0.5 {
				panic("boom")
			}
			copy(f, u)
			return nil
		}
		d := searchDriver(1, boom, FullStep)
		prepareStep(d, []float64{2}, []float64{-2}, 10, -4)
		if d.fullNewton() != errSysFatal {
			t.Fatal("step panic test fail")
		}
		if d.workspace.nfe != 1 {
			t.Fatal("step panic test fail")
		}
	}

	{
		// the constraints shorten a step crossing the sign bound
		d := searchDriver(2, identity, FullStep)
		d.solver.constraints = []Constraint{NonNegative, NoLimit}
		prepareStep(d, []float64{1, 1}, []float64{-2, -0.5}, 10, -1)
		ctx := &d.workspace.iterCtx
		if d.fullNewton() != ok {
			t.Fatal("step constraint test fail")
		}
		if !almostEqual(ctx.unew[0], 0.1, 1e-12) || !almostEqual(ctx.unew[1], 0.775, 1e-12) {
			t.Fatal("step constraint test fail")
		}
		if !almostEqual(ctx.pnorm, 0.45*math.Sqrt(4.25), 1e-15) {
			t.Fatal("step constraint test fail")
		}
	}

	{
		// a constrained step below steptol leaves the iterate in place
		d := searchDriver(2, identity, FullStep)
		d.solver.constraints = []Constraint{NonNegative, NoLimit}
		d.solver.stop.StepTolerance = 1.0
		prepareStep(d, []float64{1, 1}, []float64{-2, -0.5}, 10, -1)
		ctx := &d.workspace.iterCtx
		if d.fullNewton() != errStepTooSmall {
			t.Fatal("step constraint test fail")
		}
		if !almostEqual(ctx.unew, []float64{1, 1}, 0) {
			t.Fatal("step constraint test fail")
		}
	}

}

func TestLineSearchBacktrack(t *testing.T) {

	// The Newton step of F(u) = atan(u) from u = 3 overshoots far across
	// the root, so the merit function rises at the full step and a single
	// interpolation backtrack locates an acceptable λ ≈ 0.42.
	f3 := math.Atan(3)
	fn := func(u, f []float64) error {
		f[0] = math.Atan(u[0])
		return nil
	}

	d := searchDriver(1, fn, LineSearch)
	prepareStep(d, []float64{3}, []float64{-10 * f3}, 1000, -f3*f3)
	ctx := &d.workspace.iterCtx

	if d.lineSearch() != ok {
		t.Fatal("backtrack test fail")
	}
	if ctx.nbktrk != 1 || ctx.nfe != 2 || ctx.nbcf != 0 {
		t.Fatal("backtrack test fail")
	}
	if !almostEqual(ctx.lam, 0.4207, 1e-3) {
		t.Fatal("backtrack test fail")
	}

	// the stored candidate agrees with the residual at unew
	if !almostEqual(ctx.fnormp, math.Abs(math.Atan(ctx.unew[0])), 1e-12) {
		t.Fatal("backtrack test fail")
	}

	// the decrease condition holds at the accepted step
	slpi := -f3 * f3
	if ctx.f1normp > d.location.f1norm+searchAlpha*slpi*ctx.lam {
		t.Fatal("decrease condition fail")
	}

	if !almostEqual(ctx.stepl, ctx.lam*ctx.pnorm, 1e-12) || ctx.maxStepTaken {
		t.Fatal("backtrack test fail")
	}
	if !almostEqual(ctx.sFdotJp, slpi*ctx.lam, 1e-12) {
		t.Fatal("backtrack test fail")
	}

}

func TestLineSearchExpand(t *testing.T) {

	// A quarter of the Newton step of F(u) = u decreases the residual so
	// fast that the slowdown condition rejects it: the step is doubled
	// once towards the bound and accepted at λ = 2.
	identity := func(u, f []float64) error {
		copy(f, u)
		return nil
	}

	d := searchDriver(1, identity, LineSearch)
	prepareStep(d, []float64{4}, []float64{-0.5}, 16, -2)
	ctx := &d.workspace.iterCtx

	if d.lineSearch() != ok {
		t.Fatal("expand test fail")
	}
	if ctx.lam != 2 || ctx.nbktrk != 1 || ctx.nfe != 2 {
		t.Fatal("expand test fail")
	}
	if ctx.unew[0] != 3 || ctx.fnormp != 3 || ctx.stepl != 1 {
		t.Fatal("expand test fail")
	}
	if ctx.nbcf != 0 || ctx.maxStepTaken {
		t.Fatal("expand test fail")
	}

}

// meritShape returns a residual whose magnitude is prescribed at the
// exact relative steps the search will sample along pp = 1 from u = 0.
// An unplanned sample surfaces as a fatal residual failure.
func meritShape(shape [][2]float64) SysFn {
	return func(u, f []float64) error {
		for _, s := range shape {
			if math.Abs(u[0]-s[0]) < 1e-9 {
				f[0] = s[1]
				return nil
			}
		}
		return errors.New("unexpected sample")
	}
}

func TestLineSearchBisect(t *testing.T) {

	// With slope -1 and merit samples f(1) = 2.5, f(1/3) = 0.5 the search
	// backtracks once and lands below the slowdown bound, then bisects
	// upward through 2/3 and 5/6. There rldiff = 1/6 dips under
	// λmin = 0.25 while the slowdown condition still fails, so the search
	// settles for rl = 5/6 and counts one curvature failure.
	fn := meritShape([][2]float64{
		{0, 2},
		{1, math.Sqrt(5)},
		{1. / 3, 1},
		{2. / 3, math.Sqrt(2.4)},
		{5. / 6, math.Sqrt(2.2)},
	})

	d := searchDriver(1, fn, LineSearch)
	d.solver.stop.StepTolerance = 0.25
	prepareStep(d, []float64{0}, []float64{1}, 1000, -1)
	ctx := &d.workspace.iterCtx

	if d.lineSearch() != ok {
		t.Fatal("bisect test fail")
	}
	if !almostEqual(ctx.lam, 5./6, 1e-9) {
		t.Fatal("bisect test fail")
	}
	if ctx.nbktrk != 3 || ctx.nbcf != 1 || ctx.nfe != 5 {
		t.Fatal("bisect test fail")
	}
	if !almostEqual(ctx.f1normp, 1.1, 1e-9) {
		t.Fatal("bisect test fail")
	}

}

func TestLineSearchTooSmall(t *testing.T) {

	// λmin = 0.5 kills the first backtrack to λ = 1/3: the step is
	// given up and the iterate stays in place.
	fn := meritShape([][2]float64{
		{0, 2},
		{1, math.Sqrt(5)},
		{1. / 3, 1},
	})

	d := searchDriver(1, fn, LineSearch)
	d.solver.stop.StepTolerance = 0.5
	prepareStep(d, []float64{0}, []float64{1}, 1000, -1)
	ctx := &d.workspace.iterCtx

	if d.lineSearch() != errStepTooSmall {
		t.Fatal("small step test fail")
	}
	if ctx.unew[0] != 0 || ctx.nbktrk != 1 || ctx.nfe != 2 {
		t.Fatal("small step test fail")
	}

}

func TestConstraints(t *testing.T) {

	cases := []struct {
		c    Constraint
		x    float64
		want bool
	}{
		{NonNegative, -1, true},
		{NonNegative, 0, false},
		{Positive, 0, true},
		{Positive, 1, false},
		{NonPositive, 1, true},
		{NonPositive, 0, false},
		{Negative, 0, true},
		{Negative, -1, false},
		{NoLimit, -5, false},
	}
	for _, c := range cases {
		if violates(c.c, c.x) != c.want {
			t.Fatal("violates test fail")
		}
	}

	constraints := []Constraint{NonNegative, Negative, NoLimit}
	if !feasible(constraints, []float64{0, -1, 5}) {
		t.Fatal("feasible test fail")
	}
	if feasible(constraints, []float64{-0.1, -1, 5}) {
		t.Fatal("feasible test fail")
	}

}

func TestConstrainStep(t *testing.T) {

	identity := func(u, f []float64) error {
		copy(f, u)
		return nil
	}

	{
		// the worst violating component decides the multiplier 0.9·|u₀|/|p₀|
		d := searchDriver(3, identity, LineSearch)
		d.solver.constraints = []Constraint{NonNegative, NonPositive, NoLimit}
		prepareStep(d, []float64{2, -1, 5}, []float64{-3, 0.5, 1}, 10, -1)
		mul, violated := d.constrainStep()
		if !violated || !almostEqual(mul, 0.6, 1e-15) {
			t.Fatal("constrain step test fail")
		}

		// the shortened step stays feasible
		u, pp := d.location.u, d.workspace.pp
		unew := make([]float64, 3)
		dlsum(3, one, u, mul, pp, unew)
		if !feasible(d.solver.constraints, unew) {
			t.Fatal("constrain step test fail")
		}
	}

	{
		// a feasible step needs no shortening
		d := searchDriver(3, identity, LineSearch)
		d.solver.constraints = []Constraint{NonNegative, NonPositive, NoLimit}
		prepareStep(d, []float64{2, -1, 5}, []float64{0.5, -0.5, 1}, 10, -1)
		if _, violated := d.constrainStep(); violated {
			t.Fatal("constrain step test fail")
		}
	}

}
