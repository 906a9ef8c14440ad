// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nksol

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/curioloop/nonlinear/numdiff"
	"github.com/curioloop/nonlinear/spgmr"
)

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated (level < 0)
	LogNoop LogLevel = -1
	// LogLast print only the exit report of the solve
	LogLast LogLevel = 0
	// LogEval print also nni, nfe and fnorm every `level` iterations for any (0 < level < 99)
	LogEval LogLevel = 1
	// LogTrace print details of every iteration except n-vectors
	LogTrace LogLevel = 99
	// LogVerbose print details of every iteration including u and F (level > 100)
	LogVerbose LogLevel = 101
)

// Logger handles logging output for the solver.
// Note the writers must be thread-safe.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages.
	Out   io.Writer // Writer for output data.
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Msg, format)
	}
}

func (l *Logger) out(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Out, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Out, format)
	}
}

// SysFn evaluates the nonlinear residual F(u), storing it in f.
// Both slices have the problem dimension and must not be retained.
// A non-nil error marks u as an invalid evaluation point: the solver
// retries with a shorter step and gives up only after repeated failures.
// A panic inside the callback aborts the solve with SysFuncFail.
type SysFn func(u, f []float64) error

// JvFn computes the analytic Jacobian-vector product jv = J(u)𝐯.
// fu holds the current residual F(u) for products that can reuse it.
// A non-nil error aborts the current linear solve.
type JvFn func(u, fu, v, jv []float64) error

// WatchFn observes the solver state after every accepted iteration.
type WatchFn func(stat IterStat)

// IterStat is a per-iteration snapshot passed to the watch callback.
type IterStat struct {
	Iter       int     // Completed outer iterations.
	FNorm      float64 // Scaled residual norm ‖D_F·F(u)‖₂ at the new iterate.
	StepLen    float64 // Scaled length of the accepted step.
	Lambda     float64 // Relative step length accepted by the globalization.
	Eta        float64 // Forcing term used for the linear solve of this step.
	LinIters   int     // Linear iterations spent on this step.
	Backtracks int     // Extra residual samples taken by the line search.
	MaxStep    bool    // The step was truncated at the maximum length.
}

// Strategy selects the globalization applied to the Newton step.
type Strategy int

const (
	// LineSearch backtrack along the Newton direction until sufficient decrease holds (default)
	LineSearch Strategy = iota
	// FullStep take the Newton step shortened only by the step bound and constraints
	FullStep
)

// EtaChoice selects the forcing term sequence for the linear solve tolerances.
//
// S.C. Eisenstat, H.F. Walker, 'Choosing the forcing terms in an inexact Newton method',
// SIAM J. Sci. Comput., 1996.
type EtaChoice int

const (
	// EtaChoice2 η = γ·(‖D_F·F(uₖ₊₁)‖/‖D_F·F(uₖ)‖)^α (default)
	EtaChoice2 EtaChoice = iota
	// EtaChoice1 η = |‖D_F·F(uₖ₊₁)‖ - ‖D_F·F(uₖ) + D_F·J(uₖ)p‖| / ‖D_F·F(uₖ)‖
	EtaChoice1
	// EtaConstant keep η fixed over all iterations
	EtaConstant
)

// Forcing configures the inexact-Newton forcing sequence η.
// Each ηₖ bounds the relative residual the linear solver must reach, so the
// linear systems are solved loosely far from a root and tightly near one.
// All choices are safeguarded into [10⁻⁴, 0.9].
type Forcing struct {
	// Sequence choice
	Choice EtaChoice
	// Starting η₀ for the non-constant choices (0 means 0.5)
	Initial float64
	// Parameters of EtaChoice2 (0 means γ=0.9 and α=2)
	Gamma, Alpha float64
	// Fixed η used by EtaConstant (0 means 0.1)
	Constant float64
}

// Termination specifies the stopping criteria of the Newton iteration.
type Termination struct {
	// The iteration stop when the number of iteration exceeds limit. (0 means 200)
	MaxIterations int
	// The iteration stop when the scaled residual norm satisfied:
	//   ‖D_F·F(u)‖∞ ≤ 𝚏𝚝𝚘𝚕   (0 means ε¹ᐟ³)
	FNormTolerance float64
	// The iteration stop when the relative scaled step length satisfied:
	//   𝚖𝚊𝚡ᵢ |pᵢ| / (|uᵢ| + 1/D_uᵢ) ≤ 𝚜𝚝𝚎𝚙𝚝𝚘𝚕   (0 means ε²ᐟ³)
	StepTolerance float64
}

// Constraint restricts the sign of one solution component.
// Violating steps are not rejected but shortened to keep the iterate feasible.
type Constraint int

const (
	// NoLimit leave the component unconstrained (default)
	NoLimit Constraint = iota
	// NonNegative keep uᵢ ≥ 0
	NonNegative
	// Positive keep uᵢ > 0
	Positive
	// NonPositive keep uᵢ ≤ 0
	NonPositive
	// Negative keep uᵢ < 0
	Negative
)

// Krylov configures the linear solver used for the Newton corrections.
type Krylov struct {
	// Maximum Krylov subspace dimension (0 means 5)
	MaxSubspace int
	// Restarts allowed when the subspace is exhausted (0 means none)
	MaxRestarts int
	// Gram-Schmidt variant used by the Arnoldi process
	Ortho spgmr.Ortho
	// Optional right preconditioner
	Psolve spgmr.PSolve
}

// Default parameters of the Newton iteration.
const (
	defaultMaxIter   = 200  // outer iteration limit
	defaultBetaFails = 10   // curvature condition failure limit
	defaultEtaInit   = half // starting forcing term
	defaultEtaGamma  = pt9  // γ of EtaChoice2
	defaultEtaAlpha  = two  // α of EtaChoice2
	defaultEtaConst  = pt1  // fixed η of EtaConstant
)

// Problem specifies the nonlinear system F(u) = 0 for the Newton-Krylov solver.
type Problem struct {
	N        int         // The problem dimension
	Eval     SysFn       // Nonlinear residual
	Jv       JvFn        // Optional analytic Jacobian-vector product (nil means finite differences)
	Strategy Strategy    // Globalization strategy
	Eta      Forcing     // Forcing term sequence
	Stop     Termination // Stop condition
	Krylov   Krylov      // Linear solver config

	// Optional diagonal scaling D_u with positive entries, chosen so the
	// components of D_u·u have comparable magnitudes near a solution.
	UScale []float64
	// Optional diagonal scaling D_F with positive entries, chosen so the
	// components of D_F·F have comparable magnitudes away from a solution.
	FScale []float64
	// Optional sign conditions kept by shortening steps.
	Constraints []Constraint
	// Bound on the scaled step length ‖D_u·p‖₂ (0 means 1000×‖D_u·u₀‖₂).
	MaxNewtonStep float64
	// Curvature condition failures tolerated before termination (0 means 10).
	MaxBetaFails int
	// Consecutive line search failures tolerated before termination (0 means 5).
	// Each failure tightens the linear tolerance before the step is retried.
	MaxStagnation int
	// Optional per-iteration statistics hook.
	Watch WatchFn
}

// New creates a new Newton-Krylov solver for the given problem.
func (p *Problem) New(logger *Logger) (solver *Solver, err error) {

	if logger == nil {
		logger = new(Logger)
		logger.Level = LogNoop
	}
	if logger.Msg == nil {
		logger.Msg = os.Stdout
	}
	if logger.Out == nil {
		logger.Out = os.Stderr
	}

	n := p.N
	eta, stop := p.Eta, p.Stop
	uscale, fscale := p.UScale, p.FScale

	epsilon := math.Nextafter(1, 2) - 1

	if stop.MaxIterations == 0 {
		stop.MaxIterations = defaultMaxIter
	}
	if stop.FNormTolerance == 0 {
		stop.FNormTolerance = math.Pow(epsilon, one/three)
	}
	if stop.StepTolerance == 0 {
		stop.StepTolerance = math.Pow(epsilon, two/three)
	}
	if eta.Initial == 0 {
		eta.Initial = defaultEtaInit
	}
	if eta.Gamma == 0 {
		eta.Gamma = defaultEtaGamma
	}
	if eta.Alpha == 0 {
		eta.Alpha = defaultEtaAlpha
	}
	if eta.Constant == 0 {
		eta.Constant = defaultEtaConst
	}
	mxnbcf := p.MaxBetaFails
	if mxnbcf == 0 {
		mxnbcf = defaultBetaFails
	}
	mxstgn := p.MaxStagnation
	if mxstgn == 0 {
		mxstgn = defaultStagnation
	}

	switch {
	case n <= 0:
		err = errors.New("problem dimension must greater than 0")
	case p.Eval == nil:
		err = errors.New("system function is required")
	case p.Strategy != LineSearch && p.Strategy != FullStep:
		err = errors.New("unknown globalization strategy")
	case stop.MaxIterations < 0:
		err = errors.New("max iteration must greater than 1")
	case stop.FNormTolerance < 0:
		err = errors.New("residual tolerance must not less than 0")
	case stop.StepTolerance < 0:
		err = errors.New("step tolerance must not less than 0")
	case eta.Choice != EtaChoice1 && eta.Choice != EtaChoice2 && eta.Choice != EtaConstant:
		err = errors.New("unknown eta choice")
	case eta.Initial <= 0 || eta.Initial >= 1:
		err = errors.New("initial eta must in range (0,1)")
	case eta.Gamma <= 0 || eta.Gamma > 1:
		err = errors.New("eta gamma must in range (0,1]")
	case eta.Alpha <= 1 || eta.Alpha > 2:
		err = errors.New("eta alpha must in range (1,2]")
	case eta.Constant <= 0 || eta.Constant > 1:
		err = errors.New("constant eta must in range (0,1]")
	case p.MaxNewtonStep < 0:
		err = errors.New("max newton step must not less than 0")
	case mxnbcf < 0:
		err = errors.New("beta fail limit must not less than 0")
	case mxstgn < 0:
		err = errors.New("stagnation limit must not less than 0")
	case uscale != nil && len(uscale) != n:
		err = errors.New("u scaling size must equal to n")
	case fscale != nil && len(fscale) != n:
		err = errors.New("f scaling size must equal to n")
	case p.Constraints != nil && len(p.Constraints) != n:
		err = errors.New("constraints size must equal to n")
	}

	for _, sc := range [][]float64{uscale, fscale} {
		if err != nil {
			break
		}
		for k, v := range sc {
			if v <= zero || math.IsNaN(v) {
				err = errors.New(fmt.Sprintf("scaling at %d must greater than 0", k))
				break
			}
		}
	}

	for k, c := range p.Constraints {
		if err != nil {
			break
		}
		if c < NoLimit || c > Negative {
			err = errors.New(fmt.Sprintf("unknown constraint at %d", k))
		}
	}

	if err != nil {
		return
	}

	if uscale == nil {
		uscale = make([]float64, n)
		dfill(one, uscale)
	}
	if fscale == nil {
		fscale = make([]float64, n)
		dfill(one, fscale)
	}

	lin, err := (&spgmr.Spec{
		N:           n,
		MaxSubspace: p.Krylov.MaxSubspace,
		MaxRestarts: p.Krylov.MaxRestarts,
		Ortho:       p.Krylov.Ortho,
		Psolve:      p.Krylov.Psolve,
		S1:          fscale,
		S2:          fscale,
	}).New()
	if err != nil {
		return
	}

	solver = &Solver{
		iterSpec{
			n:             n,
			strategy:      p.Strategy,
			eta:           eta,
			stop:          stop,
			maxBetaFails:  mxnbcf,
			maxStagnation: mxstgn,
			mxnstepin:     p.MaxNewtonStep,
			epsilon:       epsilon,
			uscale:        uscale,
			fscale:        fscale,
			constraints:   p.Constraints,
			fn:            p.Eval,
			jtimes:        p.Jv,
			watch:         p.Watch,
			krylov:        lin,
			logger:        *logger,
		},
	}
	return
}

// Solver implements the inexact Newton-Krylov method with line-search globalization.
type Solver struct {
	iterSpec
}

// Workspace contains the state and context of one nonlinear solve.
// Given problem dimension n and Krylov subspace dimension 𝚖𝚊𝚡𝚕,
// total work space is approximately float64[(𝚖𝚊𝚡𝚕+8)×n + 𝚖𝚊𝚡𝚕²].
type Workspace struct {
	n int
	iterCtx
}

// Result contains the final result of the nonlinear solve.
type Result struct {
	OK      bool      // Whether an approximate root was reached.
	U       []float64 // Final iterate.
	F       []float64 // Final residual F(u).
	FNorm   float64   // Final scaled residual norm ‖D_F·F(u)‖₂.
	Summary           // Solve summary.
}

// Summary contains a summary of the nonlinear solve process.
type Summary struct {
	Status        iterStatus // Final status after iteration.
	NumIter       int        // Number of Newton iterations performed.
	NumFuncEvals  int        // Number of residual evaluations, difference quotients included.
	NumJvEvals    int        // Number of Jacobian-vector products performed.
	NumLinIters   int        // Number of linear solver iterations performed.
	NumPrecSolves int        // Number of preconditioner applications performed.
	NumRestarts   int        // Number of linear solver restart cycles taken.
	NumBacktracks int        // Number of extra residual samples taken by the line search.
	NumBetaFails  int        // Number of curvature condition failures.
	StepLength    float64    // Scaled length of the last accepted step.
}

// Init allocates the workspace for the Newton-Krylov solver.
// To avoid race conditions, separate workspaces need to be created for each goroutine.
// But multiple workspaces could share one solver.
func (s *Solver) Init() *Workspace {
	w := new(Workspace)
	w.n = s.n
	w.init(&s.iterSpec)
	return w
}

func (w *Workspace) init(spec *iterSpec) {
	n := spec.n
	w.unew = make([]float64, n)
	w.pp = make([]float64, n)
	w.vtemp1 = make([]float64, n)
	w.lin = spec.krylov.Init()
	if spec.jtimes == nil {
		fd := &numdiff.JvSpec{
			N:      n,
			Method: numdiff.Forward,
			Scale:  spec.uscale,
			Object: func(u, f []float64) error {
				w.nfe++
				return spec.fn(u, f)
			},
		}
		if err := fd.Check(); err != nil {
			panic(err)
		}
		w.fd = fd
	}
}

// Solve runs the Newton iteration from the initial guess u using workspace w.
func (s *Solver) Solve(u []float64, w *Workspace) *Result {

	if len(u) != s.n {
		panic("initial u dimension not match spec")
	}

	if w.n != s.n {
		panic("workspace dimension not match spec")
	}

	loc := iterLoc{
		u:    slices.Repeat(u, 1),
		fval: make([]float64, len(u)),
	}

	driver := iterDriver{
		solver:    s,
		workspace: w,
		location:  &loc,
	}

	status := driver.mainLoop()
	return &Result{
		OK: status&iterConv > 0,
		U:  loc.u, F: loc.fval, FNorm: loc.fnorm,
		Summary: Summary{
			Status:        status,
			NumIter:       w.nni,
			NumFuncEvals:  w.nfe,
			NumJvEvals:    w.nje,
			NumLinIters:   w.nli,
			NumPrecSolves: w.nps,
			NumRestarts:   w.nrs,
			NumBacktracks: w.nbktrk,
			NumBetaFails:  w.nbcf,
			StepLength:    w.stepl,
		},
	}
}
