// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nksol

import "math"

// Subroutine scFNorm
//
// This subroutine computes the max norm of a scaled vector:
//
//	‖s·v‖∞ = 𝚖𝚊𝚡ᵢ |sᵢvᵢ|
//
// The residual stop test compares this quantity against 𝚏𝚝𝚘𝚕.
func scFNorm(n int, v, s []float64) float64 {
	if n < 0 || n > len(v) || n > len(s) {
		panic("bound check error")
	}
	norm := zero
	for i := 0; i < n; i++ {
		norm = math.Max(norm, math.Abs(s[i]*v[i]))
	}
	return norm
}

// Subroutine wl2Norm
//
// This subroutine computes the Euclidean norm of a scaled vector:
//
//	‖s·v‖₂ = √Σ(sᵢvᵢ)²
//
// The merit function and the forcing sequence are defined on this norm.
func wl2Norm(n int, v, s []float64) float64 {
	if n < 0 || n > len(v) || n > len(s) {
		panic("bound check error")
	}
	scale := zero
	ssq := one
	for i := 0; i < n; i++ {
		if a := math.Abs(s[i] * v[i]); a > 0 {
			if scale < a {
				sa := scale / a
				ssq = 1 + ssq*sa*sa
				scale = a
			} else {
				sa := a / scale
				ssq += sa * sa
			}
		}
	}
	return scale * math.Sqrt(ssq)
}

// Subroutine wrmsNorm
//
// This subroutine computes the weighted root-mean-square norm:
//
//	‖v‖ʷʳᵐˢ = √(Σ(sᵢvᵢ)²/n)
func wrmsNorm(n int, v, s []float64) float64 {
	if n <= 0 {
		return zero
	}
	return wl2Norm(n, v, s) / math.Sqrt(float64(n))
}

// Subroutine scStepLength
//
// This subroutine computes the relative length of step p against location u:
//
//	𝚖𝚊𝚡ᵢ |pᵢ| / (|uᵢ| + 1/sᵢ)
//
// The step stop test compares this quantity against 𝚜𝚝𝚎𝚙𝚝𝚘𝚕, and the
// line search derives its minimum relative step λ𝚖𝚒𝚗 from it.
func scStepLength(n int, u, p, s []float64) float64 {
	if n < 0 || n > len(u) || n > len(p) || n > len(s) {
		panic("bound check error")
	}
	length := zero
	for i := 0; i < n; i++ {
		length = math.Max(length, math.Abs(p[i])/(math.Abs(u[i])+one/s[i]))
	}
	return length
}
