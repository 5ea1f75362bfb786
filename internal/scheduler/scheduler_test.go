package scheduler_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"torii/internal/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTasksRunInOrder(t *testing.T) {
	s := scheduler.NewScheduler(16)
	s.RunScheduler()

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		s.Post("append", func() error {
			order = append(order, i)
			return nil
		})
	}
	s.StopScheduler()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestWaitReturnsTaskError(t *testing.T) {
	s := scheduler.NewScheduler(1)
	s.RunScheduler()
	defer s.StopScheduler()

	boom := errors.New("boom")
	assert.ErrorIs(t, s.Wait("fail", func() error { return boom }), boom)
	assert.NoError(t, s.Wait("ok", func() error { return nil }))
}

func TestStoppedSchedulerRejectsTasks(t *testing.T) {
	s := scheduler.NewScheduler(1)
	s.RunScheduler()
	s.StopScheduler()
	s.StopScheduler()

	err := s.ScheduleHighPriorityTask(scheduler.Task{Name: "late", Execute: func() error { return nil }})
	assert.ErrorIs(t, err, scheduler.ErrStopped)
}

func TestPeriodicTask(t *testing.T) {
	s := scheduler.NewScheduler(4)
	s.RunScheduler()

	var runs atomic.Int32
	s.SchedulePeriodicTask(5*time.Millisecond, scheduler.Task{
		Name:    "tick",
		Execute: func() error { runs.Add(1); return nil },
	})

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	s.StopScheduler()

	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}
