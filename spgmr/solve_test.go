// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spgmr_test

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/nonlinear/spgmr"
)

// denseOp wraps a dense matrix as a matrix-free operator.
func denseOp(a *mat.Dense) spgmr.ATimes {
	return func(v, av []float64) error {
		n, _ := a.Dims()
		mat.NewVecDense(n, av).MulVec(a, mat.NewVecDense(n, v))
		return nil
	}
}

// testSystem builds a strictly diagonally dominant system with entries in [-1,1).
func testSystem(rnd *rand.Rand, n int) (*mat.Dense, []float64) {
	a := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				a.Set(i, j, float64(n))
			} else {
				a.Set(i, j, 2*rnd.Float64()-1)
			}
		}
	}
	b := make([]float64, n)
	for i := range b {
		b[i] = 2*rnd.Float64() - 1
	}
	return a, b
}

func refSolve(a *mat.Dense, b []float64) []float64 {
	n := len(b)
	var x mat.VecDense
	if err := x.SolveVec(a, mat.NewVecDense(n, append([]float64{}, b...))); err != nil {
		panic(err)
	}
	return x.RawVector().Data
}

func scaledResidual(a *mat.Dense, x, b, s1 []float64) float64 {
	n := len(b)
	ax := mat.NewVecDense(n, nil)
	ax.MulVec(a, mat.NewVecDense(n, x))
	var sum float64
	for i := 0; i < n; i++ {
		r := b[i] - ax.AtVec(i)
		if s1 != nil {
			r *= s1[i]
		}
		sum += r * r
	}
	return math.Sqrt(sum)
}

func TestSolveDense(t *testing.T) {
	const n, delta = 12, 1e-9

	rnd := rand.New(rand.NewSource(7))
	a, b := testSystem(rnd, n)
	want := refSolve(a, b)

	solver, err := (&spgmr.Spec{N: n, MaxSubspace: n}).New()
	require.NoError(t, err)

	x := make([]float64, n)
	res := solver.Solve(solver.Init(), denseOp(a), x, b, delta)

	require.True(t, res.OK)
	require.Equal(t, spgmr.Converged, res.Status)
	require.LessOrEqual(t, res.ResNorm, delta)
	require.LessOrEqual(t, res.NumIter, n)
	require.Zero(t, res.NumRestart)
	require.Zero(t, res.NumPsolve)
	require.LessOrEqual(t, scaledResidual(a, x, b, nil), 2*delta)
	require.InDeltaSlice(t, want, x, 1e-6)
}

func TestSolveTrivial(t *testing.T) {
	const n = 6

	eye := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		eye.Set(i, i, 1)
	}

	solver, err := (&spgmr.Spec{N: n}).New()
	require.NoError(t, err)
	w := solver.Init()

	// zero right side and zero guess converge without any work
	x, b := make([]float64, n), make([]float64, n)
	res := solver.Solve(w, denseOp(eye), x, b, 1e-12)
	require.True(t, res.OK)
	require.Equal(t, spgmr.Converged, res.Status)
	require.Zero(t, res.NumIter)
	require.Zero(t, res.ResNorm)

	// an exact initial guess is kept untouched
	for i := range b {
		b[i] = float64(i + 1)
		x[i] = b[i]
	}
	res = solver.Solve(w, denseOp(eye), x, b, 1e-12)
	require.True(t, res.OK)
	require.Zero(t, res.NumIter)
	for i := range x {
		require.Equal(t, b[i], x[i])
	}

	// identity converges in one iteration from a zero guess
	x = make([]float64, n)
	res = solver.Solve(w, denseOp(eye), x, b, 1e-12)
	require.True(t, res.OK)
	require.Equal(t, 1, res.NumIter)
	require.InDeltaSlice(t, b, x, 1e-12)
}

func TestSolveRestart(t *testing.T) {
	const n, delta = 12, 1e-9

	rnd := rand.New(rand.NewSource(11))
	a, b := testSystem(rnd, n)
	want := refSolve(a, b)

	solver, err := (&spgmr.Spec{N: n, MaxSubspace: 3, MaxRestarts: 40}).New()
	require.NoError(t, err)

	x := make([]float64, n)
	res := solver.Solve(solver.Init(), denseOp(a), x, b, delta)

	require.True(t, res.OK)
	require.Equal(t, spgmr.Converged, res.Status)
	require.GreaterOrEqual(t, res.NumRestart, 1)
	require.LessOrEqual(t, scaledResidual(a, x, b, nil), 10*delta)
	require.InDeltaSlice(t, want, x, 1e-6)
}

func TestSolveBudget(t *testing.T) {
	const n = 12

	rnd := rand.New(rand.NewSource(13))
	a, b := testSystem(rnd, n)

	solver, err := (&spgmr.Spec{N: n, MaxSubspace: 2}).New()
	require.NoError(t, err)

	x := make([]float64, n)
	res := solver.Solve(solver.Init(), denseOp(a), x, b, 1e-14)

	// the tolerance is out of reach, but the correction still improved the guess
	beta := mat.NewVecDense(n, b).Norm(2)
	require.False(t, res.OK)
	require.Equal(t, spgmr.ResReduced, res.Status)
	require.Equal(t, 2, res.NumIter)
	require.Less(t, res.ResNorm, beta)
	require.Less(t, scaledResidual(a, x, b, nil), beta)
}

func TestSolveStall(t *testing.T) {
	const n = 8

	// Ae_i = e_{i+1} with b = e₁ keeps the minimal residual at ‖b‖
	// until the subspace spans the full space, so a truncated subspace
	// cannot improve the zero guess at all.
	shift := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		shift.Set((i+1)%n, i, 1)
	}
	b := make([]float64, n)
	b[0] = 1

	solver, err := (&spgmr.Spec{N: n, MaxSubspace: 3}).New()
	require.NoError(t, err)

	x := make([]float64, n)
	res := solver.Solve(solver.Init(), denseOp(shift), x, b, 1e-12)

	require.False(t, res.OK)
	require.Equal(t, spgmr.NotConverged, res.Status)
	require.Equal(t, 3, res.NumIter)
	require.Equal(t, 1.0, res.ResNorm)
	for i := range x {
		require.Zero(t, x[i])
	}
}

func TestSolveScaled(t *testing.T) {
	const n, delta = 10, 1e-8

	rnd := rand.New(rand.NewSource(17))
	a, b := testSystem(rnd, n)

	s1 := make([]float64, n)
	s2 := make([]float64, n)
	for i := 0; i < n; i++ {
		s1[i] = 0.5 + 0.2*float64(i)
		s2[i] = 2.0 - 0.1*float64(i)
	}

	solver, err := (&spgmr.Spec{N: n, MaxSubspace: n, S1: s1, S2: s2}).New()
	require.NoError(t, err)

	x := make([]float64, n)
	res := solver.Solve(solver.Init(), denseOp(a), x, b, delta)

	// the tolerance applies to the S₁-scaled residual
	require.True(t, res.OK)
	require.Equal(t, spgmr.Converged, res.Status)
	require.LessOrEqual(t, scaledResidual(a, x, b, s1), 2*delta)
	require.InDeltaSlice(t, refSolve(a, b), x, 1e-6)
}

func TestSolveOrtho(t *testing.T) {
	const n, delta = 12, 1e-10

	rnd := rand.New(rand.NewSource(19))
	a, b := testSystem(rnd, n)

	xm := make([]float64, n)
	xc := make([]float64, n)

	for _, run := range []struct {
		ortho spgmr.Ortho
		x     []float64
	}{
		{spgmr.ModifiedGS, xm},
		{spgmr.ClassicalGS, xc},
	} {
		solver, err := (&spgmr.Spec{N: n, MaxSubspace: n, Ortho: run.ortho}).New()
		require.NoError(t, err)
		res := solver.Solve(solver.Init(), denseOp(a), run.x, b, delta)
		require.True(t, res.OK)
	}

	// both Gram-Schmidt variants agree on a well-conditioned system
	require.InDeltaSlice(t, xm, xc, 1e-8)
}

func TestSolvePrecond(t *testing.T) {
	const n, delta = 12, 1e-9

	rnd := rand.New(rand.NewSource(23))
	a, b := testSystem(rnd, n)
	want := refSolve(a, b)

	jacobi := func(r []float64) error {
		for i := range r {
			r[i] /= a.At(i, i)
		}
		return nil
	}

	solver, err := (&spgmr.Spec{N: n, MaxSubspace: n, Psolve: jacobi}).New()
	require.NoError(t, err)

	x := make([]float64, n)
	res := solver.Solve(solver.Init(), denseOp(a), x, b, delta)

	require.True(t, res.OK)
	require.Equal(t, spgmr.Converged, res.Status)
	require.Equal(t, res.NumIter+1, res.NumPsolve)
	require.LessOrEqual(t, scaledResidual(a, x, b, nil), 2*delta)
	require.InDeltaSlice(t, want, x, 1e-6)
}

func TestSolveCallbackErr(t *testing.T) {
	const n = 6

	rnd := rand.New(rand.NewSource(29))
	a, b := testSystem(rnd, n)

	bad := errors.New("bad operator")
	fails := func(v, av []float64) error { return bad }

	solver, err := (&spgmr.Spec{N: n}).New()
	require.NoError(t, err)

	x := make([]float64, n)
	res := solver.Solve(solver.Init(), fails, x, b, 1e-9)
	require.False(t, res.OK)
	require.Equal(t, spgmr.AtimesFail, res.Status)

	solver, err = (&spgmr.Spec{N: n, Psolve: func(r []float64) error { return bad }}).New()
	require.NoError(t, err)

	res = solver.Solve(solver.Init(), denseOp(a), x, b, 1e-9)
	require.False(t, res.OK)
	require.Equal(t, spgmr.PsolveFail, res.Status)
}

func TestSpecCheck(t *testing.T) {
	for _, c := range []struct {
		spec spgmr.Spec
		err  string
	}{
		{spgmr.Spec{N: 0}, "problem dimension must greater than 0"},
		{spgmr.Spec{N: 4, MaxSubspace: -1}, "krylov dimension must not less than 0"},
		{spgmr.Spec{N: 4, MaxRestarts: -1}, "restart number must not less than 0"},
		{spgmr.Spec{N: 4, Ortho: 2}, "unknown orthogonalization method"},
		{spgmr.Spec{N: 4, S1: make([]float64, 3)}, "s1 scaling size must equal to n"},
		{spgmr.Spec{N: 4, S2: make([]float64, 3)}, "s2 scaling size must equal to n"},
		{spgmr.Spec{N: 2, S1: []float64{1, 0}}, "scaling at 1 must greater than 0"},
	} {
		solver, err := c.spec.New()
		require.Nil(t, solver)
		require.EqualError(t, err, c.err)
	}

	solver, err := (&spgmr.Spec{N: 4}).New()
	require.NoError(t, err)
	require.NotNil(t, solver)
}
