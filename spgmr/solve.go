// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spgmr

import "math"

// Solve runs the GMRES iteration on the system A𝐱 = 𝐛.
//
// On entry x holds the initial guess, on return the best solution found.
// The atimes callback realizes the products with A for this call, so one
// solver may serve a sequence of related systems. The iteration stops once
// the residual satisfies
//
//	‖S₁(𝐛 - A𝐱)‖₂ ≤ δ
//
// and otherwise runs up to MaxSubspace iterations per cycle over
// 1+MaxRestarts cycles. When the tolerance is out of reach, the best
// correction found is still applied whenever it lowered the scaled
// residual norm below that of the initial guess.
//
// Y. Saad, M.H. Schultz, 'GMRES: A generalized minimal residual algorithm for
// solving nonsymmetric linear systems', SIAM J. Sci. Stat. Comput., 1986.
func (s *Solver) Solve(w *Workspace, atimes ATimes, x, b []float64, delta float64) *Result {

	if atimes == nil {
		panic("atimes operator is required")
	}
	if len(x) != s.n || len(b) != s.n {
		panic("system dimension not match spec")
	}
	if w.n != s.n || w.maxl != s.maxl {
		panic("workspace dimension not match spec")
	}

	n, maxl := s.n, s.maxl
	ldh := maxl + 1
	res := new(Result)

	v0 := w.v[:n]

	// Set V[0] to the initial residual r₀ = 𝐛 - A𝐱₀
	if dnrm2(n, x) == zero {
		dcopy(n, b, v0)
	} else {
		if atimes(x, w.vtemp) != nil {
			res.Status = AtimesFail
			return res
		}
		for i := 0; i < n; i++ {
			v0[i] = b[i] - w.vtemp[i]
		}
	}

	// Apply left scaling and set β to the norm of the scaled residual
	if s.s1 != nil {
		dprod(n, s.s1, v0, v0)
	}
	beta := dnrm2(n, v0)
	res.ResNorm = beta
	if beta <= delta {
		res.OK = true
		res.Status = Converged
		return res
	}

	rho, rnorm := beta, beta
	converged, breakdown := false, false

	dzero(w.xcor)

	for ntries := 0; ; ntries++ {

		// Initialize the Hessenberg matrix and the rotation product,
		// then normalize V[0] for this cycle
		dzero(w.hes)
		rotprod := one
		dscal(n, one/rnorm, v0)

		krydim := 0
		for l := 0; l < maxl; l++ {
			res.NumIter++
			vl := w.v[l*n : l*n+n]
			vl1 := w.v[(l+1)*n : (l+2)*n]

			// Generate ÃV[l] where Ã = S₁AP⁻¹S₂⁻¹
			if s.s2 != nil {
				ddiv(n, vl, s.s2, w.vtemp)
			} else {
				dcopy(n, vl, w.vtemp)
			}
			if s.psolve != nil {
				res.NumPsolve++
				if s.psolve(w.vtemp) != nil {
					res.Status = PsolveFail
					return res
				}
			}
			if atimes(w.vtemp, vl1) != nil {
				res.Status = AtimesFail
				return res
			}
			if s.s1 != nil {
				dprod(n, s.s1, vl1, vl1)
			}

			// Orthogonalize V[l+1] against the previous basis vectors
			var vkNorm, newNorm float64
			if s.gs == ClassicalGS {
				vkNorm, newNorm = classicalGS(n, w.v, w.hes, ldh, l+1, w.stemp)
			} else {
				vkNorm, newNorm = modifiedGS(n, w.v, w.hes, ldh, l+1)
			}
			w.hes[(l+1)+l*ldh] = newNorm
			krydim = l + 1

			// Update the QR factorization of the Hessenberg matrix.
			// A singular factor leaves only the previous columns usable.
			if !qrFact(l, w.hes, ldh, w.giv) {
				krydim = l
				breakdown = true
				break
			}

			// Update the residual norm estimate of the current subspace
			rotprod *= -w.giv[l].s
			rho = math.Abs(rotprod * rnorm)
			res.ResNorm = rho
			if rho <= delta {
				converged = true
				break
			}

			// The Krylov space became invariant before the tolerance was
			// met, so the minimizer over the current basis is final
			if temp := reorthFactor * vkNorm; temp+newNorm == temp {
				breakdown = true
				break
			}
			dscal(n, one/newNorm, vl1)
		}

		if krydim > 0 {
			// Solve the least squares system and update the correction
			w.yg[0] = rnorm
			for i := 1; i <= krydim; i++ {
				w.yg[i] = zero
			}
			if !qrSol(krydim, w.hes, ldh, w.giv, w.yg) {
				res.Status = NotConverged
				return res
			}
			for k := 0; k < krydim; k++ {
				daxpy(n, w.yg[k], w.v[k*n:k*n+n], w.xcor)
			}
		}

		if converged || breakdown || ntries == s.maxrs {
			break
		}
		res.NumRestart++

		// Reconstruct the residual vector of this cycle from the last
		// column of the rotation product Q, giving V[0] of the next
		sprod := one
		for i := krydim; i > 0; i-- {
			w.yg[i] = sprod * w.giv[i-1].c
			sprod *= -w.giv[i-1].s
		}
		w.yg[0] = sprod

		rnorm *= sprod
		for i := 0; i <= krydim; i++ {
			w.yg[i] *= rnorm
		}
		rnorm = math.Abs(rnorm)

		dscal(n, w.yg[0], v0)
		for i := 1; i <= krydim; i++ {
			daxpy(n, w.yg[i], w.v[i*n:i*n+n], v0)
		}
	}

	// When the tolerance was not met within the allowed restarts, apply
	// the correction anyway if it reduced the residual of the guess.
	if converged || rho < beta {
		// Undo right scaling and preconditioning: x += P⁻¹S₂⁻¹xcor
		if s.s2 != nil {
			ddiv(n, w.xcor, s.s2, w.xcor)
		}
		if s.psolve != nil {
			res.NumPsolve++
			if s.psolve(w.xcor) != nil {
				res.Status = PsolveFail
				return res
			}
		}
		daxpy(n, one, w.xcor, x)
		if converged {
			res.OK = true
			res.Status = Converged
		} else {
			res.Status = ResReduced
		}
		return res
	}

	res.Status = NotConverged
	return res
}
