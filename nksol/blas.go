// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nksol

// dlsum computes the linear sum dz = da×dx + db×dy.
// Any of the three vectors may alias another.
func dlsum(n int, da float64, dx []float64, db float64, dy, dz []float64) {
	if n <= 0 {
		return
	}
	m := uint(n % 4)
	if m > uint(len(dx)) || m > uint(len(dy)) || m > uint(len(dz)) {
		panic("bound check error")
	}
	for i := uint(0); i < m; i++ {
		dz[i] = da*dx[i] + db*dy[i]
	}
	if n < 4 {
		return
	}
	for i := m; i < uint(n); i += 4 {
		x := dx[i : i+4 : i+4]
		y := dy[i : i+4 : i+4]
		z := dz[i : i+4 : i+4]
		z[0] = da*x[0] + db*y[0]
		z[1] = da*x[1] + db*y[1]
		z[2] = da*x[2] + db*y[2]
		z[3] = da*x[3] + db*y[3]
	}
}

// ddot computes the dot product of two vectors.
func ddot(n int, dx, dy []float64) (dot float64) {
	if n <= 0 {
		return 0.0
	}
	m := uint(n % 5)
	if m > uint(len(dx)) || m > uint(len(dy)) {
		panic("bound check error")
	}
	for i := uint(0); i < m; i++ {
		dot += dx[i] * dy[i]
	}
	if n < 5 {
		return dot
	}
	for i := m; i < uint(n); i += 5 {
		x := dx[i : i+5 : i+5]
		y := dy[i : i+5 : i+5]
		dot += x[0]*y[0] + x[1]*y[1] + x[2]*y[2] + x[3]*y[3] + x[4]*y[4]
	}
	return dot
}

// dcopy copies a vector, x, to a vector, y.
func dcopy(n int, dx, dy []float64) {
	if n <= 0 {
		return
	}
	copy(dy[:n], dx[:n])
}

// dscal scales a vector by a constant.
func dscal(n int, da float64, dx []float64) {
	if n <= 0 {
		return
	}
	m := uint(n % 5)
	if m > uint(len(dx)) {
		panic("bound check error")
	}
	for i := uint(0); i < m; i++ {
		dx[i] *= da
	}
	if n < 5 {
		return
	}
	for i := m; i < uint(n); i += 5 {
		d := dx[i : i+5 : i+5]
		d[0] *= da
		d[1] *= da
		d[2] *= da
		d[3] *= da
		d[4] *= da
	}
}

// dprod computes the element-wise product dz = dx × dy.
func dprod(n int, dx, dy, dz []float64) {
	if n <= 0 {
		return
	}
	m := uint(n % 4)
	if m > uint(len(dx)) || m > uint(len(dy)) || m > uint(len(dz)) {
		panic("bound check error")
	}
	for i := uint(0); i < m; i++ {
		dz[i] = dx[i] * dy[i]
	}
	if n < 4 {
		return
	}
	for i := m; i < uint(n); i += 4 {
		x := dx[i : i+4 : i+4]
		y := dy[i : i+4 : i+4]
		z := dz[i : i+4 : i+4]
		z[0] = x[0] * y[0]
		z[1] = x[1] * y[1]
		z[2] = x[2] * y[2]
		z[3] = x[3] * y[3]
	}
}

// dfill fills vector x with constant da.
func dfill(da float64, dx []float64) {
	n := uint(len(dx))
	m := n % 5
	for i := uint(0); i < m; i++ {
		dx[i] = da
	}
	if n < 5 {
		return
	}
	for i := m; i < n; i += 5 {
		d := dx[i : i+5 : i+5]
		d[0] = da
		d[1] = da
		d[2] = da
		d[3] = da
		d[4] = da
	}
}
