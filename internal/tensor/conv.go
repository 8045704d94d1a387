package tensor

import "fmt"

// ConvGeom describes a square-kernel 2-D convolution.
type ConvGeom struct {
	Kernel  int
	Stride  int
	Padding int
}

// OutSize returns the convolution output extent for an input extent.
func (g ConvGeom) OutSize(in int) int {
	return (in+2*g.Padding-g.Kernel)/g.Stride + 1
}

// TransposedOutSize returns the transposed convolution output extent.
func (g ConvGeom) TransposedOutSize(in int) int {
	return (in-1)*g.Stride - 2*g.Padding + g.Kernel
}

// im2col unrolls an image [c,h,w] into col [c*k*k, oh*ow].
func im2col(img []float64, c, h, w int, g ConvGeom, oh, ow int, col []float64) {
	k := g.Kernel
	n := oh * ow
	for ch := 0; ch < c; ch++ {
		for ki := 0; ki < k; ki++ {
			for kj := 0; kj < k; kj++ {
				row := col[((ch*k+ki)*k+kj)*n:]
				for oy := 0; oy < oh; oy++ {
					y := oy*g.Stride - g.Padding + ki
					for ox := 0; ox < ow; ox++ {
						x := ox*g.Stride - g.Padding + kj
						if y < 0 || y >= h || x < 0 || x >= w {
							row[oy*ow+ox] = 0
							continue
						}
						row[oy*ow+ox] = img[(ch*h+y)*w+x]
					}
				}
			}
		}
	}
}

// col2im is the adjoint of im2col: it accumulates col into img.
func col2im(col []float64, c, h, w int, g ConvGeom, oh, ow int, img []float64) {
	k := g.Kernel
	n := oh * ow
	for ch := 0; ch < c; ch++ {
		for ki := 0; ki < k; ki++ {
			for kj := 0; kj < k; kj++ {
				row := col[((ch*k+ki)*k+kj)*n:]
				for oy := 0; oy < oh; oy++ {
					y := oy*g.Stride - g.Padding + ki
					if y < 0 || y >= h {
						continue
					}
					for ox := 0; ox < ow; ox++ {
						x := ox*g.Stride - g.Padding + kj
						if x < 0 || x >= w {
							continue
						}
						img[(ch*h+y)*w+x] += row[oy*ow+ox]
					}
				}
			}
		}
	}
}

// Conv2D convolves x [n,c,h,w] with w [f,c,k,k]. bias [f] may be nil.
func Conv2D(x, w, bias *Tensor, g ConvGeom) *Tensor {
	if len(x.Shape) != 4 || len(w.Shape) != 4 || x.Shape[1] != w.Shape[1] ||
		w.Shape[2] != g.Kernel || w.Shape[3] != g.Kernel {
		panic(fmt.Sprintf("tensor: Conv2D of %v with weight %v", x.Shape, w.Shape))
	}
	n, c, h, wd := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	f := w.Shape[0]
	oh, ow := g.OutSize(h), g.OutSize(wd)
	if oh <= 0 || ow <= 0 {
		panic(fmt.Sprintf("tensor: Conv2D input %v too small for %+v", x.Shape, g))
	}
	ckk := c * g.Kernel * g.Kernel
	spatial := oh * ow
	inSize, outSize := c*h*wd, f*spatial

	col := make([]float64, ckk*spatial)
	data := make([]float64, n*outSize)
	for s := 0; s < n; s++ {
		im2col(x.Data[s*inSize:(s+1)*inSize], c, h, wd, g, oh, ow, col)
		dst := data[s*outSize : (s+1)*outSize]
		gemm(false, false, f, spatial, ckk, 1, w.Data, col, 0, dst)
		if bias != nil {
			addChannelBias(dst, bias.Data, spatial)
		}
	}

	out := result(data, []int{n, f, oh, ow}, x, w, bias)
	if out.requiresGrad {
		out.backward = func() {
			var dcol []float64
			if x.requiresGrad {
				dcol = make([]float64, ckk*spatial)
			}
			for s := 0; s < n; s++ {
				dout := out.Grad[s*outSize : (s+1)*outSize]
				if w.requiresGrad {
					// Columns are rebuilt rather than kept from the forward pass.
					im2col(x.Data[s*inSize:(s+1)*inSize], c, h, wd, g, oh, ow, col)
					gemm(false, true, f, ckk, spatial, 1, dout, col, 1, w.Grad)
				}
				if x.requiresGrad {
					gemm(true, false, ckk, spatial, f, 1, w.Data, dout, 0, dcol)
					col2im(dcol, c, h, wd, g, oh, ow, x.Grad[s*inSize:(s+1)*inSize])
				}
				if bias != nil && bias.requiresGrad {
					accumulateChannelBias(bias.Grad, dout, spatial)
				}
			}
		}
	}
	return out
}

// ConvTranspose2D applies a transposed convolution to x [n,cin,h,w] with
// w [cin,cout,k,k]. bias [cout] may be nil.
func ConvTranspose2D(x, w, bias *Tensor, g ConvGeom) *Tensor {
	if len(x.Shape) != 4 || len(w.Shape) != 4 || x.Shape[1] != w.Shape[0] ||
		w.Shape[2] != g.Kernel || w.Shape[3] != g.Kernel {
		panic(fmt.Sprintf("tensor: ConvTranspose2D of %v with weight %v", x.Shape, w.Shape))
	}
	n, cin, h, wd := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	cout := w.Shape[1]
	oh, ow := g.TransposedOutSize(h), g.TransposedOutSize(wd)
	ckk := cout * g.Kernel * g.Kernel
	spatial := h * wd
	inSize, outSize := cin*spatial, cout*oh*ow

	data := make([]float64, n*outSize)
	col := make([]float64, ckk*spatial)
	for s := 0; s < n; s++ {
		src := x.Data[s*inSize : (s+1)*inSize]
		gemm(true, false, ckk, spatial, cin, 1, w.Data, src, 0, col)
		dst := data[s*outSize : (s+1)*outSize]
		col2im(col, cout, oh, ow, g, h, wd, dst)
		if bias != nil {
			addChannelBias(dst, bias.Data, oh*ow)
		}
	}

	out := result(data, []int{n, cout, oh, ow}, x, w, bias)
	if out.requiresGrad {
		out.backward = func() {
			dcol := make([]float64, ckk*spatial)
			for s := 0; s < n; s++ {
				dout := out.Grad[s*outSize : (s+1)*outSize]
				im2col(dout, cout, oh, ow, g, h, wd, dcol)
				if x.requiresGrad {
					gemm(false, false, cin, spatial, ckk, 1, w.Data, dcol, 1, x.Grad[s*inSize:(s+1)*inSize])
				}
				if w.requiresGrad {
					gemm(false, true, cin, ckk, spatial, 1, x.Data[s*inSize:(s+1)*inSize], dcol, 1, w.Grad)
				}
				if bias != nil && bias.requiresGrad {
					accumulateChannelBias(bias.Grad, dout, oh*ow)
				}
			}
		}
	}
	return out
}

func addChannelBias(dst, bias []float64, spatial int) {
	for ch, b := range bias {
		plane := dst[ch*spatial : (ch+1)*spatial]
		for i := range plane {
			plane[i] += b
		}
	}
}

func accumulateChannelBias(grad, dout []float64, spatial int) {
	for ch := range grad {
		var sum float64
		for _, v := range dout[ch*spatial : (ch+1)*spatial] {
			sum += v
		}
		grad[ch] += sum
	}
}
