package utils

import (
	"context"
	"image"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestParallelForEachPixel(t *testing.T) {
	size := image.Point{X: 37, Y: 29}
	var count atomic.Int64
	seen := make([]atomic.Bool, size.X*size.Y)

	ParallelForEachPixel(size, func(x, y int) {
		count.Add(1)
		seen[y*size.X+x].Store(true)
	})

	test.That(t, count.Load(), test.ShouldEqual, int64(size.X*size.Y))
	for i := range seen {
		test.That(t, seen[i].Load(), test.ShouldBeTrue)
	}

	// degenerate sizes are a no-op
	ParallelForEachPixel(image.Point{X: 0, Y: 10}, func(x, y int) { t.Fatal("unexpected call") })
	ParallelForEachPixel(image.Point{X: 10, Y: 0}, func(x, y int) { t.Fatal("unexpected call") })
}

func TestRunInParallel(t *testing.T) {
	var ran atomic.Int64
	work := func(ctx context.Context) error {
		ran.Add(1)
		return nil
	}
	elapsed, err := RunInParallel(context.Background(), []SimpleFunc{work, work, work})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ran.Load(), test.ShouldEqual, int64(3))
	test.That(t, elapsed, test.ShouldBeGreaterThanOrEqualTo, 0)

	boom := errors.New("boom")
	_, err = RunInParallel(context.Background(), []SimpleFunc{
		work,
		func(ctx context.Context) error { return boom },
	})
	test.That(t, err, test.ShouldBeError, boom)
}

func TestDivideRoundUp(t *testing.T) {
	test.That(t, DivideRoundUp(10, 2), test.ShouldEqual, 5)
	test.That(t, DivideRoundUp(11, 2), test.ShouldEqual, 6)
	test.That(t, DivideRoundUp(1, 4), test.ShouldEqual, 1)
	test.That(t, DivideRoundUp(0, 4), test.ShouldEqual, 0)
}
