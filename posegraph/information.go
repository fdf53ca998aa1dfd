package posegraph

import "gonum.org/v1/gonum/mat"

// Degrees of freedom of planar and spatial constraints.
const (
	DOF2D = 3
	DOF3D = 6
)

// IdentityInformation returns an n x n identity information matrix.
func IdentityInformation(n int) *mat.SymDense {
	return ScaledInformation(n, 1)
}

// ScaledInformation returns an n x n diagonal information matrix with value on the diagonal.
func ScaledInformation(n int, value float64) *mat.SymDense {
	info := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		info.SetSym(i, i, value)
	}
	return info
}
