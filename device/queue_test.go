package device

import (
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/ICIbrahim/AliceVision/logging"
)

func TestQueueRunsOpsInOrder(t *testing.T) {
	q := NewQueue("test", clock.NewMock(), logging.NewTestLogger(t))

	var got []int
	for i := 0; i < 100; i++ {
		q.Enqueue("append", func() error {
			got = append(got, i)
			return nil
		})
	}
	test.That(t, q.Sync(), test.ShouldBeNil)
	test.That(t, len(got), test.ShouldEqual, 100)
	for i, v := range got {
		test.That(t, v, test.ShouldEqual, i)
	}
	test.That(t, q.Close(), test.ShouldBeNil)
}

func TestQueueFailFast(t *testing.T) {
	q := NewQueue("test", clock.NewMock(), logging.NewTestLogger(t))

	var ran []string
	q.Enqueue("first", func() error {
		ran = append(ran, "first")
		return nil
	})
	q.Enqueue("boom", func() error {
		return errors.New("whoops")
	})
	q.Enqueue("after", func() error {
		ran = append(ran, "after")
		return nil
	})

	err := q.Sync()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "boom")
	test.That(t, err.Error(), test.ShouldContainSubstring, "whoops")
	test.That(t, ran, test.ShouldResemble, []string{"first"})

	// the first failure stays latched
	test.That(t, q.Sync(), test.ShouldNotBeNil)
	test.That(t, q.Err(), test.ShouldNotBeNil)
	test.That(t, q.Close(), test.ShouldNotBeNil)
}

func TestQueueRecoversOpPanic(t *testing.T) {
	q := NewQueue("test", clock.NewMock(), logging.NewTestLogger(t))
	q.Enqueue("explode", func() error {
		panic("kaboom")
	})
	err := q.Sync()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "panic")
	test.That(t, q.Close(), test.ShouldNotBeNil)
}

func TestQueueEnqueueDoesNotBlock(t *testing.T) {
	q := NewQueue("test", clock.NewMock(), logging.NewTestLogger(t))
	release := make(chan struct{})
	q.Enqueue("stall", func() error {
		<-release
		return nil
	})
	// the worker is stuck inside the first op; these must not wait on it
	for i := 0; i < 10; i++ {
		q.Enqueue("queued", func() error { return nil })
	}
	close(release)
	test.That(t, q.Sync(), test.ShouldBeNil)
	test.That(t, q.Close(), test.ShouldBeNil)
}

func TestQueueClose(t *testing.T) {
	q := NewQueue("test", clock.NewMock(), logging.NewTestLogger(t))
	ran := false
	q.Enqueue("work", func() error {
		ran = true
		return nil
	})
	test.That(t, q.Close(), test.ShouldBeNil)
	test.That(t, ran, test.ShouldBeTrue)
	test.That(t, q.Close(), test.ShouldBeNil)

	err := q.Sync()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "closed")

	q.Enqueue("late", func() error { return nil })
	test.That(t, q.Err(), test.ShouldNotBeNil)
	test.That(t, q.Err().Error(), test.ShouldContainSubstring, "after close")
}
