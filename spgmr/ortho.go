// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spgmr

import "math"

const reorthFactor = 1000.0 // reorthogonalization threshold multiplier

// g1 compute 2×2 Givens rotation matrix G
//
//	G ⎡x₁⎤ ≡ ⎡ c s⎤⎡x₁⎤ = ⎡(x₁²+x₂²)¹ᐟ²⎤ ≡ ⎡r⎤
//	  ⎣x₂⎦   ⎣-s c⎦⎣x₂⎦   ⎣     ０     ⎦   ⎣0⎦
//
// used to annihilate the sub-diagonal entries of the Hessenberg matrix
// one column at a time, keeping its QR factorization up to date.
//
// C.L. Lawson, R.J. Hanson, 'Solving least squares problems' Prentice Hall, 1974. (revised 1995 edition)
// Chapters 3.
func g1(a, b float64) (c, s, sig float64) {
	// Temporary variables
	var xr, yr float64

	if xa, xb := math.Abs(a), math.Abs(b); xa > xb {
		xr = b / a
		yr = math.Sqrt(1 + xr*xr)
		c = math.Copysign(1/yr, a)
		s = c * xr
		sig = xa * yr
	} else if xb > 0 {
		xr = a / b
		yr = math.Sqrt(1 + xr*xr)
		s = math.Copysign(1/yr, b)
		c = s * xr
		sig = xb * yr
	} else {
		s = 1
	}
	return
}

// g2 apply the Givens rotation matrix G computed by g1
//
//	G ⎡z₁⎤ =⎡ c s⎤⎡z₁⎤ = ⎡ cz₁ + sz₂⎤
//	  ⎣z₂⎦  ⎣-s c⎦⎣z₂⎦   ⎣-sz₁ + cz₂⎦
func g2(c, s float64, x, y float64) (xr, yr float64) {
	xr = c*x + s*y
	yr = -s*x + c*y
	return
}

// givens is the (c,s) pair of one plane rotation produced by g1.
type givens struct {
	c, s float64
}

// qrFact update the QR factorization of the (l+2)×(l+1) upper Hessenberg
// matrix H̄ after its column l has been appended by Arnoldi.
//
// The rotations giv[0..l-1] of the previous columns are first applied to
// column l, then a new rotation giv[l] is built with g1 to annihilate the
// sub-diagonal entry H̄[l+1,l]. The matrix is stored column-major with
// leading dimension ldh, and R overwrites H̄ in place.
//
// Returns false when the new diagonal entry R[l,l] is exactly zero,
// in which case the triangular system is singular.
func qrFact(l int, hes []float64, ldh int, giv []givens) bool {
	col := hes[l*ldh : l*ldh+l+2]
	for k := 0; k < l; k++ {
		col[k], col[k+1] = g2(giv[k].c, giv[k].s, col[k], col[k+1])
	}
	c, s, sig := g1(col[l], col[l+1])
	giv[l] = givens{c: c, s: s}
	col[l] = sig
	col[l+1] = zero
	return sig != zero
}

// qrSol solve the (k×k) least squares system R·y = Q·g in place.
//
// On input b holds the right side g of length k+1, on output b[0..k-1]
// holds the solution y. The rotations and the triangular factor must have
// been produced by qrFact.
//
// Returns false when a zero diagonal entry of R is met.
func qrSol(k int, hes []float64, ldh int, giv []givens, b []float64) bool {
	// Apply Q to the right side
	for l := 0; l < k; l++ {
		b[l], b[l+1] = g2(giv[l].c, giv[l].s, b[l], b[l+1])
	}
	// Back substitution with R
	for l := k - 1; l >= 0; l-- {
		col := hes[l*ldh : l*ldh+l+1]
		if col[l] == zero {
			return false
		}
		b[l] /= col[l]
		daxpy(l, -b[l], col, b)
	}
	return true
}

// modifiedGS orthogonalize the Arnoldi vector v[k] against the previous
// basis vectors v[0..k-1] with the modified Gram-Schmidt process,
// storing the projection coefficients in Hessenberg column k-1.
//
// When cancellation leaves the new vector shorter than about 1000·ε times
// its input length, a second orthogonalization pass is performed so that
// loss of orthogonality is not masked by a very small vector length.
//
// Returns the norm of v[k] before and after orthogonalization.
//
// P.N. Brown, A.C. Hindmarsh, 'Reduced storage matrix methods in stiff ODE systems',
// J. Appl. Math. Comput., 1989.
func modifiedGS(n int, v, hes []float64, ldh, k int) (vkNorm, newNorm float64) {
	vk := v[k*n : k*n+n]
	col := hes[(k-1)*ldh : (k-1)*ldh+k]

	vkNorm = dnrm2(n, vk)

	for i := 0; i < k; i++ {
		vi := v[i*n : i*n+n]
		col[i] = ddot(n, vi, vk)
		daxpy(n, -col[i], vi, vk)
	}
	newNorm = dnrm2(n, vk)

	// Orthogonality already achieved within roundoff
	if temp := reorthFactor * vkNorm; temp+newNorm != temp {
		return
	}

	norm2 := zero
	for i := 0; i < k; i++ {
		vi := v[i*n : i*n+n]
		prod := ddot(n, vi, vk)
		if temp := reorthFactor * col[i]; temp+prod == temp {
			continue
		}
		col[i] += prod
		daxpy(n, -prod, vi, vk)
		norm2 += prod * prod
	}

	if norm2 != zero {
		prod := newNorm*newNorm - norm2
		if prod > zero {
			newNorm = math.Sqrt(prod)
		} else {
			newNorm = zero
		}
	}
	return
}

// classicalGS orthogonalize the Arnoldi vector v[k] against the previous
// basis vectors v[0..k-1] with the classical Gram-Schmidt process,
// storing the projection coefficients in Hessenberg column k-1.
//
// All projections are computed from the same input vector, so the dot
// products of one pass are independent of each other. A second pass is
// performed under the same cancellation test as modifiedGS.
//
// The scratch slice stemp must hold at least k+1 elements.
// Returns the norm of v[k] before and after orthogonalization.
func classicalGS(n int, v, hes []float64, ldh, k int, stemp []float64) (vkNorm, newNorm float64) {
	vk := v[k*n : k*n+n]
	col := hes[(k-1)*ldh : (k-1)*ldh+k]

	vkNorm = dnrm2(n, vk)

	for i := 0; i < k; i++ {
		stemp[i] = ddot(n, v[i*n:i*n+n], vk)
	}
	for i := 0; i < k; i++ {
		col[i] = stemp[i]
		daxpy(n, -stemp[i], v[i*n:i*n+n], vk)
	}
	newNorm = dnrm2(n, vk)

	if temp := reorthFactor * vkNorm; temp+newNorm != temp {
		return
	}

	for i := 0; i < k; i++ {
		stemp[i] = ddot(n, v[i*n:i*n+n], vk)
	}
	for i := 0; i < k; i++ {
		col[i] += stemp[i]
		daxpy(n, -stemp[i], v[i*n:i*n+n], vk)
	}
	newNorm = dnrm2(n, vk)
	return
}
