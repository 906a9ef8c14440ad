// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nksol

import "math"

const (
	etaMin = 1.0e-4
	etaMax = pt9
)

var etaAlpha1 = (one + math.Sqrt(5)) * half

// forcingTerm updates the forcing term η for the next linear solve from the
// outcome of the current step (Eisenstat & Walker 1996).
//
// EtaChoice1 measures the agreement between F and its local linear model:
//
//	η = |‖F(uₙ₊₁)‖ − ‖F(uₙ) + J(uₙ)·p‖| / ‖F(uₙ)‖
//
// where the linear model norm is recovered from the quantities Fᵀ·J·p and
// ‖J·p‖ saved by the linear solve. EtaChoice2 tracks the residual reduction:
//
//	η = γ·(‖F(uₙ₊₁)‖/‖F(uₙ)‖)^α
//
// Both choices are safeguarded against η shrinking too fast (which wastes
// linear iterations when the Newton step is still far from the solution)
// and clamped to [etaMin, etaMax]. All norms here carry the D_F scaling.
func (d *iterDriver) forcingTerm(fnormp float64) {
	spec, ctx, loc := &d.solver.iterSpec, &d.workspace.iterCtx, d.location

	var etaSafe float64
	switch spec.eta.Choice {
	case EtaChoice1:
		linmodel := math.Sqrt(loc.fnorm*loc.fnorm + two*ctx.sFdotJp + ctx.sJpnorm*ctx.sJpnorm)
		etaSafe = math.Pow(ctx.eta, etaAlpha1)
		ctx.eta = math.Abs(fnormp-linmodel) / loc.fnorm
	case EtaChoice2:
		etaSafe = spec.eta.Gamma * math.Pow(ctx.eta, spec.eta.Alpha)
		ctx.eta = spec.eta.Gamma * math.Pow(fnormp/loc.fnorm, spec.eta.Alpha)
	}

	// The safeguard only matters while it is large enough to bite.
	if etaSafe < pt1 {
		etaSafe = zero
	}

	ctx.eta = math.Max(ctx.eta, math.Max(etaSafe, etaMin))
	ctx.eta = math.Min(ctx.eta, etaMax)
}
