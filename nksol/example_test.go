// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nksol_test

import (
	"fmt"

	"github.com/curioloop/nonlinear/nksol"
)

// Solve the intersection of the unit circle x² + y² = 1 with the
// cubic y = x³, starting halfway between the origin and the root.
func ExampleSolver() {
	prob := &nksol.Problem{
		N: 2,
		Eval: func(u, f []float64) error {
			f[0] = u[0]*u[0] + u[1]*u[1] - 1
			f[1] = u[1] - u[0]*u[0]*u[0]
			return nil
		},
		Stop: nksol.Termination{FNormTolerance: 1e-10},
	}

	solver, err := prob.New(nil)
	if err != nil {
		panic(err)
	}

	res := solver.Solve([]float64{0.5, 0.5}, solver.Init())
	fmt.Printf("solved = %v\n", res.OK)
	fmt.Printf("root = (%.4f, %.4f)\n", res.U[0], res.U[1])

	// Output:
	// solved = true
	// root = (0.8260, 0.5636)
}
