// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nksol

import (
	"github.com/curioloop/nonlinear/numdiff"
	"github.com/curioloop/nonlinear/spgmr"
)

const (
	zero     = 0.0
	pt01     = 0.01
	pt1      = 0.1
	half     = 0.5
	pt9      = 0.9
	pt99     = 0.99
	one      = 1.0
	two      = 2.0
	three    = 3.0
	thousand = 1000.0
)

const (
	// maxRecover is the number of step halvings attempted after a
	// recoverable residual failure before the iteration gives up.
	maxRecover = 5
	// maxLongSteps is the number of consecutive steps of maximal length
	// tolerated before the iteration is declared divergent.
	maxLongSteps = 5
	// defaultStagnation is the number of consecutive line search failures
	// tolerated before the iteration is declared stagnant.
	defaultStagnation = 5
)

// iterStatus reports the state of the outer Newton iteration.
// The exported values are terminal and appear in Summary.Status.
type iterStatus int

const (
	iterLoop iterStatus = 0
	iterConv iterStatus = 1 << (6 + iota)
	iterStop
)

const (
	// Solved the scaled residual norm satisfied ‖D_F·F(u)‖∞ ≤ 𝚏𝚝𝚘𝚕.
	Solved = iterConv | (1 + iota)
	// InitialGuessOK the initial guess already satisfied ‖D_F·F(u₀)‖∞ ≤ 0.01×𝚏𝚝𝚘𝚕.
	InitialGuessOK
	// SmallStep the scaled step length dropped below 𝚜𝚝𝚎𝚙𝚝𝚘𝚕.
	// The iterate is an approximate root, or the iteration stalled near one.
	SmallStep
	// MaxIterReached the outer iteration budget is exhausted.
	MaxIterReached = iterStop | (1 + iota)
	// TooLongSteps five consecutive steps of length MaxNewtonStep were taken,
	// indicating ‖D_F·F‖ is unbounded below or 𝚜𝚝𝚎𝚙𝚝𝚘𝚕 is too small.
	TooLongSteps
	// LineSearchNoProgress no step satisfying the sufficient decrease
	// condition could be found above the minimum step length.
	LineSearchNoProgress
	// TooManyBetaFails the curvature condition failed more than MaxBetaFails times.
	TooManyBetaFails
	// SysFuncFail the residual callback failed unrecoverably or panicked.
	SysFuncFail
	// RepeatedSysFuncErr recoverable residual failures persisted through
	// every step halving of one iteration.
	RepeatedSysFuncErr
	// LinSolveFail the linear solver produced no usable Newton correction.
	LinSolveFail
	// InfeasibleGuess the initial guess violates the sign constraints.
	InfeasibleGuess
)

// stepInfo reports the outcome of one globalization attempt.
type stepInfo int

const (
	ok stepInfo = iota
	// errStepTooSmall no acceptable step of relative length ≥ λ𝚖𝚒𝚗 remained.
	errStepTooSmall
	// errSysRepeated recoverable residual failures persisted through all halvings.
	errSysRepeated
	// errSysFatal the residual callback failed unrecoverably or panicked.
	errSysFatal
	// errLinFail the linear solver returned no usable correction.
	errLinFail
)

type iterSpec struct {
	// the problem dimension
	n int
	// globalization strategy applied to the Newton step
	strategy Strategy
	// forcing-term configuration for the linear tolerance sequence
	eta Forcing
	// stop conditions
	stop Termination
	// curvature-condition failures tolerated before termination
	maxBetaFails int
	// consecutive line-search failures tolerated before termination
	maxStagnation int
	// user bound on the scaled step length (0 means derive from u₀)
	mxnstepin float64
	// machine precision
	epsilon float64
	// diagonal scalings D_u and D_F
	uscale []float64 // n
	fscale []float64 // n
	// optional sign conditions on solution components
	constraints []Constraint // n or empty
	// residual and optional Jacobian-vector callbacks
	fn     SysFn
	jtimes JvFn
	// optional per-iteration statistics hook
	watch WatchFn
	// shared linear solver (workspace kept per nksol workspace)
	krylov *spgmr.Solver
	logger Logger
}

type iterLoc struct {
	fnorm  float64   // ‖D_F·F(u)‖₂
	f1norm float64   // ½‖D_F·F(u)‖₂²
	u      []float64 // n
	fval   []float64 // n
}

type iterCtx struct {
	// forcing term η and the absolute linear tolerance η·fnorm
	eta, epsLin float64
	// scaled length of the raw and the accepted Newton step
	pnorm, stepl float64
	// accepted relative step length λ
	lam float64
	// directional data of the current step: (D_F·F)·(D_F·Jp) and ‖D_F·Jp‖₂
	sFdotJp, sJpnorm float64
	// candidate residual norms at u + λp
	fnormp, f1normp float64
	// effective bound on the scaled step length for this solve
	mxnewtstep float64
	// the candidate step touched the bound
	maxStepTaken bool
	// counters
	nni    int // outer iterations
	nfe    int // residual evaluations
	nje    int // Jacobian-vector products
	nli    int // linear iterations
	nps    int // preconditioner solves
	nrs    int // linear solver restarts
	nbktrk int // line-search backtracks
	nbcf   int // curvature-condition failures
	ncscmx int // consecutive steps of maximal length
	nstg   int // consecutive line-search failures
	// scratch n-vectors
	unew   []float64
	pp     []float64
	vtemp1 []float64
	// linear solver scratch
	lin *spgmr.Workspace
	// finite-difference Jacobian-vector scratch
	fd *numdiff.JvSpec
}

func (c *iterCtx) clear() {
	c.eta, c.epsLin = zero, zero
	c.pnorm, c.stepl, c.lam = zero, zero, zero
	c.sFdotJp, c.sJpnorm = zero, zero
	c.fnormp, c.f1normp = zero, zero
	c.mxnewtstep = zero
	c.maxStepTaken = false
	c.nni, c.nfe, c.nje, c.nli, c.nps, c.nrs = 0, 0, 0, 0, 0, 0
	c.nbktrk, c.nbcf, c.ncscmx, c.nstg = 0, 0, 0, 0
}
