// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spgmr

import (
	"errors"
	"fmt"
)

// Float constants
const (
	zero = 0.0
	one  = 1.0
)

// defaultSubspace is the Krylov subspace dimension used when the Spec leaves it zero.
const defaultSubspace = 5

// ATimes computes the matrix-vector product av = A𝐯.
// The product is the only access the solver has to the operator A,
// so A may exist in matrix-free form only.
// A non-nil error aborts the solve with AtimesFail.
type ATimes func(v, av []float64) error

// PSolve applies the right preconditioner in place, replacing r with P⁻¹r.
// A non-nil error aborts the solve with PsolveFail.
type PSolve func(r []float64) error

// Ortho selects the Gram-Schmidt variant used to orthogonalize the Krylov basis.
type Ortho int

const (
	// ModifiedGS orthogonalize with the modified Gram-Schmidt process (default)
	ModifiedGS Ortho = iota
	// ClassicalGS orthogonalize with the classical Gram-Schmidt process
	ClassicalGS
)

// linStatus describes the outcome of one linear solve.
type linStatus int

const (
	// Converged the scaled residual norm was reduced below the tolerance
	Converged linStatus = iota
	// ResReduced the tolerance was not met, but the returned solution still
	// lowered the scaled residual norm below that of the initial guess
	ResReduced
	// NotConverged no residual reduction was achieved and the guess is returned unchanged
	NotConverged
	// AtimesFail the operator product callback reported an error
	AtimesFail
	// PsolveFail the preconditioner callback reported an error
	PsolveFail
)

// Spec specifies the shape of linear systems solved by the SPGMR solver.
//
// The solver treats systems A𝐱 = 𝐛 through the equivalent preconditioned
// and scaled form
//
//	(S₁ A P⁻¹ S₂⁻¹)(S₂ P 𝐱) = S₁𝐛
//
// where P is the optional right preconditioner and S₁, S₂ are diagonal
// scalings chosen so that the scaled quantities are dimensionless and the
// residual tolerance applies to ‖S₁(𝐛 - A𝐱)‖₂.
type Spec struct {
	N           int       // The problem dimension
	MaxSubspace int       // Maximum Krylov subspace dimension (0 means 5)
	MaxRestarts int       // Restarts allowed after the first subspace is exhausted
	Ortho       Ortho     // Gram-Schmidt variant
	Psolve      PSolve    // Optional right preconditioner
	S1, S2      []float64 // Optional positive diagonal scalings (nil means identity)
}

// New creates a new SPGMR solver for the given system shape.
func (s *Spec) New() (solver *Solver, err error) {

	n, maxl, maxrs := s.N, s.MaxSubspace, s.MaxRestarts
	if maxl == 0 {
		maxl = defaultSubspace
	}

	switch {
	case n <= 0:
		err = errors.New("problem dimension must greater than 0")
	case maxl < 0:
		err = errors.New("krylov dimension must not less than 0")
	case maxrs < 0:
		err = errors.New("restart number must not less than 0")
	case s.Ortho != ModifiedGS && s.Ortho != ClassicalGS:
		err = errors.New("unknown orthogonalization method")
	case s.S1 != nil && len(s.S1) != n:
		err = errors.New("s1 scaling size must equal to n")
	case s.S2 != nil && len(s.S2) != n:
		err = errors.New("s2 scaling size must equal to n")
	}

	for _, sc := range [][]float64{s.S1, s.S2} {
		if err != nil {
			break
		}
		for k, v := range sc {
			if v <= zero {
				err = errors.New(fmt.Sprintf("scaling at %d must greater than 0", k))
				break
			}
		}
	}

	if err != nil {
		return
	}

	solver = &Solver{
		linSpec{
			n:      n,
			maxl:   maxl,
			maxrs:  maxrs,
			gs:     s.Ortho,
			psolve: s.Psolve,
			s1:     s.S1,
			s2:     s.S2,
		},
	}
	return
}

type linSpec struct {
	n, maxl, maxrs int
	gs             Ortho
	psolve         PSolve
	s1, s2         []float64
}

// Solver implements the scaled preconditioned GMRES iteration.
type Solver struct {
	linSpec
}

// Workspace contains the state of one linear solve.
// Given problem dimension n and subspace dimension 𝚖𝚊𝚡𝚕,
// total work space is approximately float64[(𝚖𝚊𝚡𝚕+3)×n + 𝚖𝚊𝚡𝚕² + 5×𝚖𝚊𝚡𝚕].
type Workspace struct {
	n, maxl int

	v     []float64 // (𝚖𝚊𝚡𝚕+1)×n  Krylov basis vectors, stored by rows
	hes   []float64 // (𝚖𝚊𝚡𝚕+1)×𝚖𝚊𝚡𝚕  Hessenberg matrix, stored by columns
	giv   []givens  // 𝚖𝚊𝚡𝚕  plane rotations of the QR factorization
	yg    []float64 // 𝚖𝚊𝚡𝚕+1  right side and solution of the least squares system
	xcor  []float64 // n  accumulated correction to the initial guess
	vtemp []float64 // n  scratch vector
	stemp []float64 // 𝚖𝚊𝚡𝚕+1  scratch coefficients for classical Gram-Schmidt
}

func (w *Workspace) init(n, maxl int) {
	w.v = make([]float64, (maxl+1)*n)
	w.hes = make([]float64, (maxl+1)*maxl)
	w.giv = make([]givens, maxl)
	w.yg = make([]float64, maxl+1)
	w.xcor = make([]float64, n)
	w.vtemp = make([]float64, n)
	w.stemp = make([]float64, maxl+1)
}

// Result contains the final result of one linear solve.
type Result struct {
	OK      bool      // Whether the residual tolerance was met.
	Status  linStatus // Final solve status.
	ResNorm float64   // Estimated scaled residual norm ‖S₁(𝐛 - A𝐱)‖₂ of the returned x.
	Summary           // Linear solve summary.
}

// Summary contains a summary of the linear solve process.
type Summary struct {
	NumIter    int // Number of linear iterations performed.
	NumRestart int // Number of restart cycles taken after the first.
	NumPsolve  int // Number of preconditioner applications performed.
}

// Init allocates the workspace for the SPGMR solver.
// To avoid race conditions, separate workspaces need to be created for each goroutine.
// But multiple workspaces could share one solver.
func (s *Solver) Init() *Workspace {
	w := new(Workspace)
	w.n, w.maxl = s.n, s.maxl
	w.init(w.n, w.maxl)
	return w
}
