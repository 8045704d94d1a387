package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

func general(rows, cols int, data []float64) blas64.General {
	return blas64.General{Rows: rows, Cols: cols, Stride: cols, Data: data}
}

// gemm computes c = alpha*op(a)*op(b) + beta*c on row-major slices.
func gemm(tA, tB bool, m, n, k int, alpha float64, a, b []float64, beta float64, c []float64) {
	ta, tb := blas.NoTrans, blas.NoTrans
	ar, ac := m, k
	if tA {
		ta = blas.Trans
		ar, ac = k, m
	}
	br, bc := k, n
	if tB {
		tb = blas.Trans
		br, bc = n, k
	}
	blas64.Gemm(ta, tb, alpha, general(ar, ac, a), general(br, bc, b), beta, general(m, n, c))
}

// MatMul returns the matrix product of a [m,k] and b [k,n].
func MatMul(a, b *Tensor) *Tensor {
	if len(a.Shape) != 2 || len(b.Shape) != 2 || a.Shape[1] != b.Shape[0] {
		panic(fmt.Sprintf("tensor: MatMul of %v and %v", a.Shape, b.Shape))
	}
	m, k, n := a.Shape[0], a.Shape[1], b.Shape[1]
	data := make([]float64, m*n)
	gemm(false, false, m, n, k, 1, a.Data, b.Data, 0, data)
	out := result(data, []int{m, n}, a, b)
	if out.requiresGrad {
		out.backward = func() {
			if a.requiresGrad {
				gemm(false, true, m, k, n, 1, out.Grad, b.Data, 1, a.Grad)
			}
			if b.requiresGrad {
				gemm(true, false, k, n, m, 1, a.Data, out.Grad, 1, b.Grad)
			}
		}
	}
	return out
}

// Linear returns x*Wᵀ + bias for x [batch,in], w [out,in] and bias [out].
// bias may be nil.
func Linear(x, w, bias *Tensor) *Tensor {
	if len(x.Shape) != 2 || len(w.Shape) != 2 || x.Shape[1] != w.Shape[1] {
		panic(fmt.Sprintf("tensor: Linear of %v with weight %v", x.Shape, w.Shape))
	}
	batch, in, outDim := x.Shape[0], x.Shape[1], w.Shape[0]
	data := make([]float64, batch*outDim)
	gemm(false, true, batch, outDim, in, 1, x.Data, w.Data, 0, data)
	if bias != nil {
		for r := 0; r < batch; r++ {
			row := data[r*outDim : (r+1)*outDim]
			for c := range row {
				row[c] += bias.Data[c]
			}
		}
	}
	out := result(data, []int{batch, outDim}, x, w, bias)
	if out.requiresGrad {
		out.backward = func() {
			if x.requiresGrad {
				gemm(false, false, batch, in, outDim, 1, out.Grad, w.Data, 1, x.Grad)
			}
			if w.requiresGrad {
				gemm(true, false, outDim, in, batch, 1, out.Grad, x.Data, 1, w.Grad)
			}
			if bias != nil && bias.requiresGrad {
				for r := 0; r < batch; r++ {
					for c := 0; c < outDim; c++ {
						bias.Grad[c] += out.Grad[r*outDim+c]
					}
				}
			}
		}
	}
	return out
}
