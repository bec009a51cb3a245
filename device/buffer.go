package device

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/ICIbrahim/AliceVision/utils"
)

// rowAlign is the byte boundary rows are padded to, mirroring the pitch
// of a 2D device allocation.
const rowAlign = 128

// Buffer is a device-resident array of T with logical dimensions
// width x height x depth (depth 1 for plain maps). Rows carry padding, so
// elements must be addressed through At/Set rather than assumed
// contiguous. Buffers never reallocate after construction and are not
// safe for concurrent use; confine each one to a single queue.
type Buffer[T any] struct {
	ledger   *Ledger
	width    int
	height   int
	depth    int
	pitch    int // row stride in elements
	data     []T
	view     bool
	released bool
}

// NewBuffer2D allocates a width x height buffer registered with the
// ledger.
func NewBuffer2D[T any](ledger *Ledger, width, height int) (*Buffer[T], error) {
	return NewBuffer3D[T](ledger, width, height, 1)
}

// NewBuffer3D allocates a width x height x depth buffer registered with
// the ledger.
func NewBuffer3D[T any](ledger *Ledger, width, height, depth int) (*Buffer[T], error) {
	if ledger == nil {
		return nil, errors.New("buffer needs a ledger")
	}
	if width <= 0 || height <= 0 || depth <= 0 {
		return nil, errors.Errorf("invalid buffer dimensions %dx%dx%d", width, height, depth)
	}
	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	alignedRowBytes := utils.DivideRoundUp(width*elemSize, rowAlign) * rowAlign
	b := &Buffer[T]{
		ledger: ledger,
		width:  width,
		height: height,
		depth:  depth,
		pitch:  utils.DivideRoundUp(alignedRowBytes, elemSize),
	}
	if err := ledger.reserve(b.BytesPadded()); err != nil {
		return nil, err
	}
	b.data = make([]T, b.pitch*height*depth)
	return b, nil
}

// Width returns the logical width in elements.
func (b *Buffer[T]) Width() int { return b.width }

// Height returns the logical height in elements.
func (b *Buffer[T]) Height() int { return b.height }

// Depth returns the number of planes.
func (b *Buffer[T]) Depth() int { return b.depth }

// Pitch returns the row stride in elements.
func (b *Buffer[T]) Pitch() int { return b.pitch }

// At reads element (x, y) of the front plane.
func (b *Buffer[T]) At(x, y int) T { return b.data[y*b.pitch+x] }

// Set writes element (x, y) of the front plane.
func (b *Buffer[T]) Set(x, y int, v T) { b.data[y*b.pitch+x] = v }

// At3 reads element (x, y) of plane z.
func (b *Buffer[T]) At3(x, y, z int) T { return b.data[(z*b.height+y)*b.pitch+x] }

// Set3 writes element (x, y) of plane z.
func (b *Buffer[T]) Set3(x, y, z int, v T) { b.data[(z*b.height+y)*b.pitch+x] = v }

// Slice returns a borrowed 2D view of plane z. The view shares storage
// with the parent and cannot be released.
func (b *Buffer[T]) Slice(z int) *Buffer[T] {
	planeElems := b.height * b.pitch
	return &Buffer[T]{
		width:  b.width,
		height: b.height,
		depth:  1,
		pitch:  b.pitch,
		data:   b.data[z*planeElems : (z+1)*planeElems],
		view:   true,
	}
}

// Fill writes v to every logical element.
func (b *Buffer[T]) Fill(v T) {
	for z := 0; z < b.depth; z++ {
		for y := 0; y < b.height; y++ {
			row := b.row(y, z)
			for x := range row {
				row[x] = v
			}
		}
	}
}

// CopyFrom copies every logical element from src, which must have
// identical dimensions.
func (b *Buffer[T]) CopyFrom(src *Buffer[T]) error {
	if b.width != src.width || b.height != src.height || b.depth != src.depth {
		return errors.Errorf("buffer dimension mismatch: %dx%dx%d vs %dx%dx%d",
			b.width, b.height, b.depth, src.width, src.height, src.depth)
	}
	for z := 0; z < b.depth; z++ {
		for y := 0; y < b.height; y++ {
			copy(b.row(y, z), src.row(y, z))
		}
	}
	return nil
}

// BytesPadded returns the allocated size including row padding.
func (b *Buffer[T]) BytesPadded() int64 {
	var zero T
	return int64(b.pitch) * int64(b.height) * int64(b.depth) * int64(unsafe.Sizeof(zero))
}

// BytesUnpadded returns the size of the logical elements alone.
func (b *Buffer[T]) BytesUnpadded() int64 {
	var zero T
	return int64(b.width) * int64(b.height) * int64(b.depth) * int64(unsafe.Sizeof(zero))
}

// Release returns the buffer's bytes to the ledger. Releasing twice is a
// no-op. Any access after release panics.
func (b *Buffer[T]) Release() error {
	if b.view {
		return errors.New("cannot release a borrowed buffer view")
	}
	if b.released {
		return nil
	}
	b.released = true
	b.ledger.release(b.BytesPadded())
	b.data = nil
	return nil
}

func (b *Buffer[T]) row(y, z int) []T {
	start := (z*b.height + y) * b.pitch
	return b.data[start : start+b.width]
}
