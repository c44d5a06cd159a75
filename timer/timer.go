// timer/timer.go
package timer

import (
	"container/heap"
	"sync"
	"time"
)

// TimerTask is one scheduled callback; Interval > 0 makes it repeat.
type TimerTask struct {
	Id       int64
	Execute  time.Time
	Interval time.Duration
	Callback func()
	index    int
}

type TimerQueue []*TimerTask

func (q TimerQueue) Len() int { return len(q) }

func (q TimerQueue) Less(i, j int) bool {
	return q[i].Execute.Before(q[j].Execute)
}

func (q TimerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *TimerQueue) Push(x interface{}) {
	n := len(*q)
	task := x.(*TimerTask)
	task.index = n
	*q = append(*q, task)
}

func (q *TimerQueue) Pop() interface{} {
	old := *q
	n := len(old)
	task := old[n-1]
	task.index = -1
	*q = old[0 : n-1]
	return task
}

// TimerManager runs presence heartbeats and other periodic room work
// from a single heap, checked every resolution tick.
type TimerManager struct {
	queue      TimerQueue
	tasks      map[int64]*TimerTask
	mutex      sync.Mutex
	nextId     int64
	resolution time.Duration
	done       chan struct{}
	stopOnce   sync.Once
}

func NewTimerManager() *TimerManager {
	return NewTimerManagerWithResolution(100 * time.Millisecond)
}

func NewTimerManagerWithResolution(resolution time.Duration) *TimerManager {
	manager := &TimerManager{
		queue:      make(TimerQueue, 0),
		tasks:      make(map[int64]*TimerTask),
		nextId:     1,
		resolution: resolution,
		done:       make(chan struct{}),
	}
	heap.Init(&manager.queue)
	go manager.process()
	return manager
}

// AddTimer schedules callback after delay, then every interval when interval > 0.
func (m *TimerManager) AddTimer(delay time.Duration, interval time.Duration, callback func()) int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	task := &TimerTask{
		Id:       m.nextId,
		Execute:  time.Now().Add(delay),
		Interval: interval,
		Callback: callback,
	}
	m.nextId++

	heap.Push(&m.queue, task)
	m.tasks[task.Id] = task
	return task.Id
}

// RemoveTimer cancels a task. Unknown ids are ignored.
func (m *TimerManager) RemoveTimer(timerId int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	task, ok := m.tasks[timerId]
	if !ok {
		return
	}
	delete(m.tasks, timerId)
	if task.index >= 0 {
		heap.Remove(&m.queue, task.index)
	}
}

// Len reports the number of scheduled tasks.
func (m *TimerManager) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.tasks)
}

// Stop halts the scheduler; pending tasks never fire.
func (m *TimerManager) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

func (m *TimerManager) process() {
	ticker := time.NewTicker(m.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			for _, cb := range m.due(now) {
				go cb()
			}
		}
	}
}

// due pops every task whose time has come and reschedules repeating ones.
func (m *TimerManager) due(now time.Time) []func() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var fire []func()
	for m.queue.Len() > 0 {
		task := m.queue[0]
		if task.Execute.After(now) {
			break
		}
		heap.Pop(&m.queue)
		fire = append(fire, task.Callback)

		if task.Interval > 0 {
			task.Execute = now.Add(task.Interval)
			heap.Push(&m.queue, task)
		} else {
			delete(m.tasks, task.Id)
		}
	}
	return fire
}
