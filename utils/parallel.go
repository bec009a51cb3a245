// Package utils contains small shared helpers: parallel iteration over
// pixel grids and integer math used by the tiled pipeline.
package utils

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
	"time"

	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
)

// ParallelFactor controls the max level of parallelization. This might be
// useful to set in tests where too much parallelism actually slows tests
// down in aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// ParallelForEachPixel loops over every (x, y) in size and calls f for each
// position. Rows are split into contiguous bands, one goroutine per band.
// f must be safe to call concurrently for distinct positions.
func ParallelForEachPixel(size image.Point, f func(x, y int)) {
	if size.X <= 0 || size.Y <= 0 {
		return
	}
	numBands := ParallelFactor
	if numBands > size.Y {
		numBands = size.Y
	}
	bandHeight := size.Y / numBands

	var waitGroup sync.WaitGroup
	waitGroup.Add(numBands)
	for band := 0; band < numBands; band++ {
		startY := band * bandHeight
		endY := startY + bandHeight
		if band == numBands-1 {
			endY = size.Y
		}
		sY, eY := startY, endY
		goutils.PanicCapturingGo(func() {
			defer waitGroup.Done()
			for y := sY; y < eY; y++ {
				for x := 0; x < size.X; x++ {
					f(x, y)
				}
			}
		})
	}
	waitGroup.Wait()
}

// SimpleFunc is for RunInParallel.
type SimpleFunc func(ctx context.Context) error

// RunInParallel runs all functions in parallel, returning the elapsed time
// and any error. The first error cancels the context shared by the rest.
func RunInParallel(ctx context.Context, fs []SimpleFunc) (time.Duration, error) {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	var bigError error
	var bigErrorMutex sync.Mutex
	storeError := func(err error) {
		bigErrorMutex.Lock()
		defer bigErrorMutex.Unlock()
		if bigError == nil || !errors.Is(err, context.Canceled) {
			bigError = multierr.Combine(bigError, err)
		}
	}

	helper := func(f SimpleFunc) {
		defer func() {
			if thePanic := recover(); thePanic != nil {
				storeError(fmt.Errorf("got panic running something in parallel: %v", thePanic))
				cancel()
			}
			wg.Done()
		}()
		if err := f(ctx); err != nil {
			storeError(err)
			cancel()
		}
	}

	for _, f := range fs {
		wg.Add(1)
		go helper(f)
	}

	wg.Wait()
	return time.Since(start), bigError
}

// DivideRoundUp returns the ceiling of a/b for positive integers.
func DivideRoundUp(a, b int) int {
	return (a + b - 1) / b
}
