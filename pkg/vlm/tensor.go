package vlm

import "fmt"

// Tensor is a dense row-major tensor. For sequence data the first dimension
// indexes tokens.
type Tensor struct {
	Shape []int64   `json:"shape"`
	Data  []float32 `json:"data"`
}

// Rows returns the size of the leading dimension.
func (t Tensor) Rows() int64 {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// RowSize returns the number of elements per leading-dimension row.
func (t Tensor) RowSize() int64 {
	size := int64(1)
	for _, dim := range t.Shape[1:] {
		size *= dim
	}
	return size
}

// WithoutLeadingRows returns the tensor with the first n rows removed. The
// returned tensor shares backing data with the receiver.
func (t Tensor) WithoutLeadingRows(n int64) (Tensor, error) {
	if n < 0 || n > t.Rows() {
		return Tensor{}, fmt.Errorf("cannot drop %d rows from tensor with %d rows", n, t.Rows())
	}
	shape := append([]int64{t.Rows() - n}, t.Shape[1:]...)
	return Tensor{Shape: shape, Data: t.Data[n*t.RowSize():]}, nil
}

// Validate checks that the data length matches the declared shape.
func (t Tensor) Validate() error {
	want := int64(1)
	for _, dim := range t.Shape {
		want *= dim
	}
	if len(t.Shape) == 0 {
		want = 0
	}
	if int64(len(t.Data)) != want {
		return fmt.Errorf("tensor shape %v implies %d elements, have %d", t.Shape, want, len(t.Data))
	}
	return nil
}
