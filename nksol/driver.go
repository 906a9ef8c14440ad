// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nksol

import (
	"errors"
	"math"

	"github.com/curioloop/nonlinear/spgmr"
)

// errSysPanic marks a residual evaluation that panicked instead of returning.
var errSysPanic = errors.New("system function panic")

// iterDriver is the main driver for the Newton iteration,
// responsible for managing the flow of one nonlinear solve.
type iterDriver struct {
	solver    *Solver
	workspace *Workspace
	location  *iterLoc
	// a residual panic surfaced through the linear solver
	halt bool
}

// evalF computes the residual F(u) into f,
// converting a callback panic into errSysPanic.
func (d *iterDriver) evalF(u, f []float64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errSysPanic
		}
	}()
	d.workspace.nfe++
	return d.solver.fn(u, f)
}

// atimes adapts the Jacobian-vector product J(u)𝐯 at the current iterate
// to the linear solver, through the analytic callback when configured and
// through a directional difference of F otherwise. A residual panic inside
// the product raises the halt flag, which tells a broken system function
// apart from an ordinary linear failure.
func (d *iterDriver) atimes() spgmr.ATimes {
	spec, w, loc := &d.solver.iterSpec, d.workspace, d.location
	return func(v, jv []float64) (err error) {
		defer func() {
			if r := recover(); r != nil {
				d.halt = true
				err = errSysPanic
			}
		}()
		w.nje++
		if spec.jtimes != nil {
			return spec.jtimes(loc.u, loc.fval, v, jv)
		}
		return w.fd.Times(loc.u, loc.fval, v, jv)
	}
}

// initSolve prepares the iteration: it checks the initial guess against the
// constraints, derives the step bound, seeds the forcing term and evaluates
// the initial residual. Unlike later evaluations, a failure of the first one
// is always fatal since no shorter step can move the evaluation point.
func (d *iterDriver) initSolve() iterStatus {
	spec, ctx, loc := &d.solver.iterSpec, &d.workspace.iterCtx, d.location
	log := spec.logger

	ctx.clear()

	if len(spec.constraints) > 0 && !feasible(spec.constraints, loc.u) {
		return InfeasibleGuess
	}

	switch spec.eta.Choice {
	case EtaConstant:
		ctx.eta = spec.eta.Constant
	default:
		ctx.eta = spec.eta.Initial
	}

	ctx.mxnewtstep = spec.mxnstepin
	if ctx.mxnewtstep == zero {
		ctx.mxnewtstep = thousand * wl2Norm(spec.n, loc.u, spec.uscale)
	}
	if ctx.mxnewtstep < one {
		ctx.mxnewtstep = one
	}

	if d.evalF(loc.u, loc.fval) != nil {
		return SysFuncFail
	}
	fmax := scFNorm(spec.n, loc.fval, spec.fscale)

	loc.fnorm = wl2Norm(spec.n, loc.fval, spec.fscale)
	loc.f1norm = half * loc.fnorm * loc.fnorm

	if log.enable(LogEval) {
		log.log("At iterate %5d    fnorm= %12.5e\n", 0, loc.fnorm)
	}

	if fmax <= pt01*spec.stop.FNormTolerance {
		return InitialGuessOK
	}
	return iterLoop
}

// mainLoop is the main execution loop of the Newton iteration: each pass
// solves the linearized system for an inexact Newton step, globalizes the
// step, updates the forcing term and applies the stop tests.
func (d *iterDriver) mainLoop() (status iterStatus) {

	spec := &d.solver.iterSpec
	ctx := &d.workspace.iterCtx
	loc := d.location
	log := spec.logger

	d.halt = false

	d.printInit()
	if status = d.initSolve(); status != iterLoop {
		d.printExit(status)
		return
	}

	atimes := d.atimes()

	for status == iterLoop {
		ctx.nni++

		if log.enable(LogTrace) {
			log.log("\n\nITERATION %5d\n", ctx.nni)
		}

		// Absolute tolerance of this linear solve, kept above the
		// noise floor of the residual stop test
		ctx.epsLin = (ctx.eta + spec.epsilon) * loc.fnorm
		if epsMin := pt01 * spec.stop.FNormTolerance; ctx.epsLin < epsMin {
			ctx.epsLin = epsMin
		}

		etaUsed := ctx.eta
		nliPrev, nbkPrev := ctx.nli, ctx.nbktrk

		info := d.linSolve(atimes)
		if info == ok {
			if spec.strategy == FullStep {
				info = d.fullNewton()
			} else {
				info = d.lineSearch()
			}
		}

		switch info {
		case errSysFatal:
			status = SysFuncFail
			continue
		case errSysRepeated:
			status = RepeatedSysFuncErr
			continue
		case errLinFail:
			status = LinSolveFail
			continue
		}

		if ctx.nbcf > spec.maxBetaFails {
			status = TooManyBetaFails
			continue
		}

		if info == errStepTooSmall {
			// No useful step could be made from u: tighten the linear
			// tolerance and retry, declaring stagnation once the
			// failures exhaust maxStagnation
			if ctx.nstg++; ctx.nstg >= spec.maxStagnation {
				status = LineSearchNoProgress
				continue
			}
			ctx.eta = math.Max(etaMin, pt1*ctx.eta)
			// the rejected trials left F(u) behind, restore it
			if d.evalF(loc.u, loc.fval) != nil {
				status = SysFuncFail
				continue
			}
			if ctx.nni >= spec.stop.MaxIterations {
				status = MaxIterReached
			}
			continue
		}

		if spec.eta.Choice != EtaConstant {
			d.forcingTerm(ctx.fnormp)
		}

		loc.fnorm = ctx.fnormp
		loc.f1norm = ctx.f1normp
		ctx.nstg = 0

		status = d.checkStop()

		// Accept the new iterate
		dcopy(spec.n, ctx.unew, loc.u)

		stat := IterStat{
			Iter:       ctx.nni,
			FNorm:      loc.fnorm,
			StepLen:    ctx.stepl,
			Lambda:     ctx.lam,
			Eta:        etaUsed,
			LinIters:   ctx.nli - nliPrev,
			Backtracks: ctx.nbktrk - nbkPrev,
			MaxStep:    ctx.maxStepTaken,
		}
		d.printIter(&stat)
		if spec.watch != nil {
			spec.watch(stat)
		}
	}

	d.printExit(status)
	return
}

// linSolve computes the inexact Newton step: it solves J(u)·p = -F(u) to
// the current linear tolerance and saves the directional products F·(D_F²Jp)
// and ‖D_F·Jp‖₂ consumed by the globalization and the forcing term update.
// A correction that lowered the linear residual without reaching the
// tolerance is still accepted as a usable step.
func (d *iterDriver) linSolve(atimes spgmr.ATimes) stepInfo {
	spec, ctx, loc := &d.solver.iterSpec, &d.workspace.iterCtx, d.location
	log := spec.logger
	n := spec.n

	b, x := ctx.vtemp1, ctx.pp
	dcopy(n, loc.fval, b)
	dscal(n, -one, b)
	dfill(zero, x)

	res := spec.krylov.Solve(ctx.lin, atimes, x, b, ctx.epsLin)
	ctx.nli += res.NumIter
	ctx.nps += res.NumPsolve
	ctx.nrs += res.NumRestart

	if log.enable(LogTrace) {
		log.log("LINEAR SOLVE %2d iterations; residual norm = %12.5e\n", res.NumIter, res.ResNorm)
	}

	switch res.Status {
	case spgmr.Converged, spgmr.ResReduced:
	default:
		if d.halt {
			return errSysFatal
		}
		return errLinFail
	}

	// Directional products of the raw step, corrected later
	// when the globalization shortens it
	if atimes(x, b) != nil {
		if d.halt {
			return errSysFatal
		}
		return errLinFail
	}
	ctx.sJpnorm = wl2Norm(n, b, spec.fscale)
	dprod(n, b, spec.fscale, b)
	dprod(n, b, spec.fscale, b)
	ctx.sFdotJp = ddot(n, loc.fval, b)

	return ok
}

// checkStop applies the stop tests to the accepted candidate, in order:
// the residual test, the step length test, the iteration budget and the
// count of consecutive steps that reached the bound.
func (d *iterDriver) checkStop() iterStatus {
	spec, ctx, loc := &d.solver.iterSpec, &d.workspace.iterCtx, d.location

	fmax := scFNorm(spec.n, loc.fval, spec.fscale)
	if fmax <= spec.stop.FNormTolerance {
		return Solved
	}

	// Relative length of the accepted step, with pp as scratch
	// for the difference unew - u
	delta := ctx.pp
	dlsum(spec.n, one, ctx.unew, -one, loc.u, delta)
	if scStepLength(spec.n, ctx.unew, delta, spec.uscale) <= spec.stop.StepTolerance {
		return SmallStep
	}

	if ctx.nni >= spec.stop.MaxIterations {
		return MaxIterReached
	}

	if ctx.maxStepTaken {
		ctx.ncscmx++
	} else {
		ctx.ncscmx = 0
	}
	if ctx.ncscmx == maxLongSteps {
		return TooLongSteps
	}

	return iterLoop
}

// printInit logs the initialization details of the Newton-Krylov solve,
// including machine precision, problem dimension and the initial guess.
func (d *iterDriver) printInit() {

	loc := d.location
	spec := &d.solver.iterSpec

	log := spec.logger

	if log.enable(LogLast) {
		log.log("RUNNING THE NEWTON-KRYLOV CODE\n")
		log.log("           * * *\n")
		log.log("Machine precision = %10.3e\n", spec.epsilon)
		log.log("N = %d\n", spec.n)

		if log.enable(LogEval) {
			log.out("RUNNING THE NEWTON-KRYLOV CODE\n\n")
			log.out("Machine precision = %10.3e\n", spec.epsilon)
			log.out("N = %d\n", spec.n)
			log.out("\n   it    nf   nJv   nli   nbk    lambda     stepl       eta        fnorm\n")

			if log.enable(LogVerbose) {
				log.log("\nU0 = ")
				for i, x := range loc.u {
					log.log("%.2e ", x)
					if (i+1)%6 == 0 {
						log.log("\n     ")
					}
				}
				log.log("\n")
			}
		}
	}
}

// printIter logs the current iteration details, including the residual
// norm, the accepted step and the line search statistics.
func (d *iterDriver) printIter(stat *IterStat) {

	loc := d.location
	spec := &d.solver.iterSpec
	ctx := &d.workspace.iterCtx

	log := spec.logger

	if log.enable(LogTrace) {
		log.log("LINE SEARCH %d times; norm of step = %12.5e\n", stat.Backtracks, stat.StepLen)
		log.log("At iterate %5d    fnorm= %12.5e\n", stat.Iter, loc.fnorm)
		if stat.MaxStep {
			log.log("WARNING: STEP REACHED THE BOUND MXNEWTSTEP\n")
		}
		if log.enable(LogVerbose) {
			log.log("\n U = ")
			for i := 0; i < spec.n; i++ {
				log.log("%.2e ", loc.u[i])
				if (i+1)%6 == 0 {
					log.log("\n     ")
				}
			}

			log.log("\n F = ")
			for i := 0; i < spec.n; i++ {
				log.log("%.2e ", loc.fval[i])
				if (i+1)%6 == 0 {
					log.log("\n     ")
				}
			}
			log.log("\n")
		}
	} else if log.enable(LogEval) {
		if stat.Iter%int(log.Level) == 0 {
			log.log("At iterate %5d    fnorm= %12.5e\n", stat.Iter, loc.fnorm)
		}
	}

	if log.enable(LogEval) {
		log.out("%5d %5d %5d %5d %5d %9.2e %9.2e %9.2e %12.5e\n",
			stat.Iter, ctx.nfe, ctx.nje, ctx.nli, ctx.nbktrk, stat.Lambda, stat.StepLen, stat.Eta, stat.FNorm)
	}
}

// printExit logs the final statistics and exit condition of the solve.
func (d *iterDriver) printExit(status iterStatus) {

	loc := d.location
	spec := &d.solver.iterSpec
	ctx := &d.workspace.iterCtx

	log := spec.logger
	if !log.enable(LogLast) {
		return
	}

	log.log("\n           * * *\n")
	log.log("Tit   = total number of Newton iterations\n")
	log.log("Tnf   = total number of residual evaluations\n")
	log.log("Tnj   = total number of Jacobian-vector products\n")
	log.log("Tnli  = total number of linear iterations\n")
	log.log("Tnbk  = total number of line search backtracks\n")
	log.log("Fnorm = final scaled residual norm\n")
	log.log("\n           * * *\n")
	log.log("\n    N    Tit     Tnf     Tnj    Tnli   Tnbk      Fnorm\n")
	log.log("%5d %6d %7d %7d %7d %6d %10.3e\n",
		spec.n, ctx.nni, ctx.nfe, ctx.nje, ctx.nli, ctx.nbktrk, loc.fnorm)

	var msg string
	switch status {
	case Solved:
		msg = "CONVERGENCE: SCALED_NORM_OF_F_<=_FTOL"
	case InitialGuessOK:
		msg = "CONVERGENCE: INITIAL_GUESS_ALREADY_SOLVES_THE_SYSTEM"
	case SmallStep:
		msg = "CONVERGENCE: SCALED_STEP_LENGTH_<=_STEPTOL"
	case MaxIterReached:
		msg = "STOP: TOTAL NO. of ITERATIONS REACHED LIMIT"
	case TooLongSteps:
		msg = "STOP: FIVE CONSECUTIVE STEPS OF LENGTH MXNEWTSTEP TAKEN"
	case LineSearchNoProgress:
		msg = "STOP: LINE SEARCH CANNOT LOCATE AN ADEQUATE POINT"
	case TooManyBetaFails:
		msg = "STOP: TOTAL NO. of BETA CONDITION FAILURES EXCEEDS LIMIT"
	case SysFuncFail:
		msg = "STOP: SYSTEM FUNCTION FAILED UNRECOVERABLY"
	case RepeatedSysFuncErr:
		msg = "STOP: SYSTEM FUNCTION FAILED REPEATEDLY"
	case LinSolveFail:
		msg = "STOP: LINEAR SOLVER FAILED"
	case InfeasibleGuess:
		msg = "STOP: INITIAL GUESS DOES NOT MEET THE CONSTRAINTS"
	default:
		msg = "UNKNOWN STATUS"
	}
	log.log("\n%s\n", msg)

	if log.enable(LogEval) {
		log.log(" Fnorm = %.9e\n", loc.fnorm)
	}
}
