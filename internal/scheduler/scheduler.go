// Package scheduler runs every piece of synchronization work on one
// goroutine, in the order it was submitted.
package scheduler

import (
	"errors"
	"sync"
	"time"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("torii.scheduler")

var ErrStopped = errors.New("scheduler stopped")

type Task struct {
	Name    string
	Execute func() error
}

type Scheduler struct {
	taskQueue       chan Task
	lowPriorityLock sync.Mutex
	stopChan        chan struct{}
	done            chan struct{}
	wg              sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewScheduler creates a Scheduler whose queue holds queueSize tasks.
func NewScheduler(queueSize int) *Scheduler {
	return &Scheduler{
		taskQueue: make(chan Task, queueSize),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// RunScheduler starts the loop. Tasks run one at a time; a failing task is
// logged and the loop goes on.
func (s *Scheduler) RunScheduler() {
	go func() {
		defer close(s.done)
		for {
			select {
			case task := <-s.taskQueue:
				s.execute(task)
			case <-s.stopChan:
				for {
					select {
					case task := <-s.taskQueue:
						log.Debugf("draining %s", task.Name)
						s.execute(task)
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Scheduler) execute(task Task) {
	defer s.wg.Done()
	log.Debugf("executing %s", task.Name)
	if err := task.Execute(); err != nil {
		log.Errorf("%s: %v", task.Name, err)
	}
}

// ScheduleHighPriorityTask queues task behind the tasks already submitted.
// It blocks while the queue is full and fails once the scheduler stopped.
func (s *Scheduler) ScheduleHighPriorityTask(task Task) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrStopped
	}
	s.wg.Add(1)
	s.taskQueue <- task
	return nil
}

// Post queues fn under name, logging instead of returning when the
// scheduler has stopped.
func (s *Scheduler) Post(name string, fn func() error) {
	if err := s.ScheduleHighPriorityTask(Task{Name: name, Execute: fn}); err != nil {
		log.Warningf("dropping %s: %v", name, err)
	}
}

// Wait runs fn on the loop and returns its error once it finished.
func (s *Scheduler) Wait(name string, fn func() error) error {
	result := make(chan error, 1)
	err := s.ScheduleHighPriorityTask(Task{Name: name, Execute: func() error {
		err := fn()
		result <- err
		return err
	}})
	if err != nil {
		return err
	}
	return <-result
}

// SchedulePeriodicTask queues lowTask every interval, skipping a tick when
// the queue is full. The first run is queued right away.
func (s *Scheduler) SchedulePeriodicTask(interval time.Duration, lowTask Task) {
	s.tryQueue(lowTask)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.tryQueue(lowTask)
			case <-s.stopChan:
				return
			}
		}
	}()
}

func (s *Scheduler) tryQueue(task Task) {
	s.lowPriorityLock.Lock()
	defer s.lowPriorityLock.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}

	s.wg.Add(1)
	select {
	case s.taskQueue <- task:
		log.Debugf("scheduled %s", task.Name)
	default:
		s.wg.Done()
		log.Debugf("skipped %s, queue is full", task.Name)
	}
}

// StopScheduler refuses new tasks, runs the queued ones and waits for the
// loop to exit.
func (s *Scheduler) StopScheduler() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	log.Info("stopping scheduler")
	close(s.stopChan)
	s.wg.Wait()
	<-s.done
	log.Info("scheduler stopped")
}
