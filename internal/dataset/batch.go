package dataset

import (
	"fmt"

	"outlier-aae/internal/tensor"
)

// Stack copies examples into one [n,channels,size,size] tensor and returns
// their class labels in the same order.
func Stack(examples []Example, channels, size int) (*tensor.Tensor, []int, error) {
	per := channels * size * size
	data := make([]float64, len(examples)*per)
	labels := make([]int, len(examples))
	for i, ex := range examples {
		if len(ex.Pixels) != per {
			return nil, nil, fmt.Errorf("stack %s: %d values, want %d", ex.Key, len(ex.Pixels), per)
		}
		copy(data[i*per:], ex.Pixels)
		labels[i] = ex.Label
	}
	return tensor.New(data, len(examples), channels, size, size), labels, nil
}
