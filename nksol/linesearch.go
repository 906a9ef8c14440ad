// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nksol

import "math"

// Parameters of the sufficient decrease and residual slowdown conditions.
const (
	searchAlpha = 1.0e-4
	searchBeta  = pt9
)

// fullNewton realizes the FullStep strategy: the Newton step pp is taken
// whole, shortened only by the step bound, the constraints and recoverable
// residual failures. No decrease of the merit function is required, so the
// iteration converges fast near a root and may diverge far from one.
func (d *iterDriver) fullNewton() stepInfo {
	spec, ctx, loc := &d.solver.iterSpec, &d.workspace.iterCtx, d.location
	n := spec.n
	u, unew, pp, fval := loc.u, ctx.unew, ctx.pp, loc.fval

	ctx.maxStepTaken = false
	ctx.lam = one

	// Shorten the step to the bound ‖D_u·p‖₂ ≤ mxnewtstep
	ratio := one
	pnorm := wl2Norm(n, pp, spec.uscale)
	if pnorm > ctx.mxnewtstep {
		ratio = ctx.mxnewtstep / pnorm
		dscal(n, ratio, pp)
		pnorm = ctx.mxnewtstep
	}
	ctx.pnorm, ctx.stepl = pnorm, pnorm

	// Shorten further until u + p stays feasible
	if len(spec.constraints) > 0 {
		if stepmul, violated := d.constrainStep(); violated {
			ratio *= stepmul
			dscal(n, stepmul, pp)
			pnorm *= stepmul
			ctx.pnorm, ctx.stepl = pnorm, pnorm
			if pnorm <= spec.stop.StepTolerance {
				dcopy(n, u, unew)
				return errStepTooSmall
			}
		}
	}

	// Attempt to evaluate the residual at the new iterate,
	// halving the step after each recoverable failure
	evalOK := false
	for i := 0; i < maxRecover; i++ {
		dlsum(n, one, u, one, pp, unew)
		err := d.evalF(unew, fval)
		if err == nil {
			evalOK = true
			break
		}
		if err == errSysPanic {
			return errSysFatal
		}
		ratio *= half
		dscal(n, half, pp)
		pnorm *= half
		ctx.pnorm, ctx.stepl = pnorm, pnorm
	}
	if !evalOK {
		return errSysRepeated
	}

	ctx.fnormp = wl2Norm(n, fval, spec.fscale)
	ctx.f1normp = half * ctx.fnormp * ctx.fnormp

	// The shortenings rescale the directional products of the step
	ctx.sFdotJp *= ratio
	ctx.sJpnorm *= ratio

	ctx.maxStepTaken = pnorm > pt99*ctx.mxnewtstep
	return ok
}

// lineSearch realizes the LineSearch strategy: a relative step λ along pp
// satisfying both the sufficient decrease condition
//
//	f(u+λp) ≤ f(u) + α·λ·(∇f·p)
//
// and the residual slowdown condition
//
//	f(u+λp) ≥ f(u) + β·λ·(∇f·p)
//
// on the merit function f = ½‖D_F·F‖₂², with α = 10⁻⁴ and β = 0.9.
// Backtracks minimize a quadratic, then cubic, interpolant of the merit
// samples. A full step inside the bound that fails the slowdown condition
// is doubled towards the bound, and a final bisection brackets λ between
// the last two samples.
//
// J.E. Dennis, R.B. Schnabel, 'Numerical Methods for Unconstrained
// Optimization and Nonlinear Equations', SIAM, 1996.
func (d *iterDriver) lineSearch() stepInfo {
	spec, ctx, loc := &d.solver.iterSpec, &d.workspace.iterCtx, d.location
	n := spec.n
	u, unew, pp, fval := loc.u, ctx.unew, ctx.pp, loc.fval

	ctx.maxStepTaken = false
	nbk := 0

	// Shorten the step to the bound ‖D_u·p‖₂ ≤ mxnewtstep
	ratio := one
	pnorm := wl2Norm(n, pp, spec.uscale)
	rlmax := ctx.mxnewtstep / pnorm
	if pnorm > ctx.mxnewtstep {
		ratio = ctx.mxnewtstep / pnorm
		dscal(n, ratio, pp)
		pnorm = ctx.mxnewtstep
		rlmax = one
	}
	ctx.pnorm, ctx.stepl = pnorm, pnorm

	// Shorten further until u + p stays feasible
	if len(spec.constraints) > 0 {
		if stepmul, violated := d.constrainStep(); violated {
			ratio *= stepmul
			dscal(n, stepmul, pp)
			pnorm *= stepmul
			rlmax = one
			ctx.pnorm, ctx.stepl = pnorm, pnorm
			if pnorm <= spec.stop.StepTolerance {
				dcopy(n, u, unew)
				return errStepTooSmall
			}
		}
	}

	// Attempt to evaluate the residual at the full step,
	// halving after each recoverable failure
	evalOK := false
	for i := 0; i < maxRecover; i++ {
		dlsum(n, one, u, one, pp, unew)
		err := d.evalF(unew, fval)
		if err == nil {
			evalOK = true
			break
		}
		if err == errSysPanic {
			return errSysFatal
		}
		ratio *= half
		dscal(n, half, pp)
		pnorm *= half
		rlmax = one
		ctx.pnorm, ctx.stepl = pnorm, pnorm
	}
	if !evalOK {
		return errSysRepeated
	}

	fnormp := wl2Norm(n, fval, spec.fscale)
	f1normp := half * fnormp * fnormp

	// Initial slope ∇f·p of the merit function along pp,
	// and minimum relative step keeping u + λp apart from u
	slpi := ctx.sFdotJp * ratio
	rlmin := spec.stop.StepTolerance / scStepLength(n, u, pp, spec.uscale)

	rl, rlprev, f1nprv := one, zero, zero
	firstBacktrack := true

	// Backtrack until the decrease condition holds
	var alphaCond float64
	for {
		alphaCond = loc.f1norm + searchAlpha*slpi*rl
		if f1normp <= alphaCond {
			break
		}

		// Minimize the interpolant of the merit samples,
		// keeping λ within [0.1,0.5] of its previous value
		var rltmp float64
		if firstBacktrack {
			rltmp = -slpi / (two * (f1normp - loc.f1norm - slpi))
			firstBacktrack = false
		} else {
			tmp1 := f1normp - loc.f1norm - rl*slpi
			tmp2 := f1nprv - loc.f1norm - rlprev*slpi
			rlA := (tmp1/(rl*rl) - tmp2/(rlprev*rlprev)) / (rl - rlprev)
			rlB := (-rlprev*tmp1/(rl*rl) + rl*tmp2/(rlprev*rlprev)) / (rl - rlprev)
			if disc := rlB*rlB - three*rlA*slpi; math.Abs(rlA) < spec.epsilon {
				// the cubic degenerates to a quadratic
				rltmp = -slpi / (two * rlB)
			} else {
				rltmp = (-rlB + math.Sqrt(disc)) / (three * rlA)
			}
		}
		rltmp = math.Min(rltmp, half*rl)

		rlprev, f1nprv = rl, f1normp
		rl = math.Max(pt1*rl, rltmp)
		nbk++

		dlsum(n, one, u, rl, pp, unew)
		if d.evalF(unew, fval) != nil {
			ctx.nbktrk += nbk
			return errSysFatal
		}
		fnormp = wl2Norm(n, fval, spec.fscale)
		f1normp = half * fnormp * fnormp

		if rl < rlmin {
			// u + λp no longer responds to λ: give the iterate up
			dcopy(n, u, unew)
			ctx.nbktrk += nbk
			return errStepTooSmall
		}
	}

	// The decrease is sufficient: now reject steps so short that the
	// residual slows down more than the slowdown condition allows
	betaCond := loc.f1norm + searchBeta*slpi*rl

	if f1normp < betaCond {

		// A full step inside the bound may be doubled towards the bound.
		// An enlarged step could leave the feasible region, so active
		// constraints keep the step at unit length instead.
		if rl == one && pnorm < ctx.mxnewtstep && len(spec.constraints) == 0 {
			for {
				rlprev = rl
				rl = math.Min(two*rl, rlmax)
				nbk++

				dlsum(n, one, u, rl, pp, unew)
				if d.evalF(unew, fval) != nil {
					ctx.nbktrk += nbk
					return errSysFatal
				}
				fnormp = wl2Norm(n, fval, spec.fscale)
				f1normp = half * fnormp * fnormp
				alphaCond = loc.f1norm + searchAlpha*slpi*rl
				betaCond = loc.f1norm + searchBeta*slpi*rl

				if f1normp > alphaCond || f1normp >= betaCond || rl >= rlmax {
					break
				}
			}
		}

		// Bisect λ between the last sample satisfying the decrease
		// condition and the last violating the slowdown condition
		if rl < one || (rl > one && f1normp > alphaCond) {
			rllo := math.Min(rl, rlprev)
			rldiff := math.Abs(rlprev - rl)

			for {
				rlinc := half * rldiff
				rl = rllo + rlinc
				nbk++

				dlsum(n, one, u, rl, pp, unew)
				if d.evalF(unew, fval) != nil {
					ctx.nbktrk += nbk
					return errSysFatal
				}
				fnormp = wl2Norm(n, fval, spec.fscale)
				f1normp = half * fnormp * fnormp
				alphaCond = loc.f1norm + searchAlpha*slpi*rl
				betaCond = loc.f1norm + searchBeta*slpi*rl

				if f1normp > alphaCond {
					rldiff = rlinc
				} else if f1normp < betaCond {
					rllo = rl
					rldiff -= rlinc
				}

				if f1normp <= alphaCond && (f1normp >= betaCond || rldiff <= rlmin) {
					break
				}
			}

			if f1normp < betaCond {
				// No λ reconciles both conditions: settle for the
				// bracket side where the decrease condition holds
				rl = rllo
				dlsum(n, one, u, rl, pp, unew)
				if d.evalF(unew, fval) != nil {
					ctx.nbktrk += nbk
					return errSysFatal
				}
				fnormp = wl2Norm(n, fval, spec.fscale)
				f1normp = half * fnormp * fnormp
				ctx.nbcf++
			}
		}
	}

	ctx.nbktrk += nbk
	ctx.fnormp, ctx.f1normp = fnormp, f1normp

	// The shortenings and λ rescale the directional products of the step
	ctx.sFdotJp *= rl * ratio
	ctx.sJpnorm *= rl * ratio

	ctx.lam = rl
	ctx.stepl = rl * pnorm
	ctx.maxStepTaken = rl*pnorm > pt99*ctx.mxnewtstep
	return ok
}

// constrainStep computes the multiplier shortening pp until u + pp stays
// feasible. The second return is false when no component violates its
// constraint and pp needs no shortening.
//
// The multiplier 0.9·𝚖𝚒𝚗ᵢ|uᵢ|/|pᵢ| over the violating components moves the
// worst of them from beyond its sign bound to a tenth of its old magnitude,
// and keeps the sign of every other component.
func (d *iterDriver) constrainStep() (float64, bool) {
	spec, ctx, loc := &d.solver.iterSpec, &d.workspace.iterCtx, d.location
	stepmul, violated := math.Inf(1), false
	for i, c := range spec.constraints {
		if c == NoLimit || !violates(c, loc.u[i]+ctx.pp[i]) {
			continue
		}
		violated = true
		if p := math.Abs(ctx.pp[i]); p > zero {
			stepmul = math.Min(stepmul, math.Abs(loc.u[i])/p)
		}
	}
	return pt9 * stepmul, violated
}

// violates reports whether value x breaks constraint c.
func violates(c Constraint, x float64) bool {
	switch c {
	case NonNegative:
		return x < zero
	case Positive:
		return x <= zero
	case NonPositive:
		return x > zero
	case Negative:
		return x >= zero
	}
	return false
}

// feasible reports whether every component of u satisfies its constraint.
func feasible(constraints []Constraint, u []float64) bool {
	for i, c := range constraints {
		if c != NoLimit && violates(c, u[i]) {
			return false
		}
	}
	return true
}
