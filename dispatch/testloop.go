package dispatch

import (
	"container/heap"
	"time"
)

// TestLoop is a Dispatcher with a virtual clock. Nothing runs until the
// test drives it with RunUntilIdle or RunFor.
type TestLoop struct {
	now    time.Time
	queue  []func()
	timers timerHeap
	seq    uint64
}

func NewTestLoop() *TestLoop {
	return &TestLoop{now: time.Unix(0, 0)}
}

func (l *TestLoop) Post(fn func()) {
	l.queue = append(l.queue, fn)
}

func (l *TestLoop) PostDelayed(d time.Duration, fn func()) *Task {
	if d < 0 {
		d = 0
	}
	t := &Task{fn: fn}
	l.seq++
	heap.Push(&l.timers, &timer{deadline: l.now.Add(d), seq: l.seq, task: t})
	return t
}

func (l *TestLoop) Now() time.Time {
	return l.now
}

// RunUntilIdle runs queued work and due timers without advancing the clock.
func (l *TestLoop) RunUntilIdle() {
	for {
		if len(l.queue) > 0 {
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			fn()
			continue
		}
		if len(l.timers) > 0 && !l.timers[0].deadline.After(l.now) {
			tm := heap.Pop(&l.timers).(*timer)
			tm.task.run()
			continue
		}
		return
	}
}

// RunFor advances the clock by d, firing timers in deadline order.
func (l *TestLoop) RunFor(d time.Duration) {
	end := l.now.Add(d)
	for {
		l.RunUntilIdle()
		if len(l.timers) == 0 || l.timers[0].deadline.After(end) {
			break
		}
		l.now = l.timers[0].deadline
	}
	l.now = end
	l.RunUntilIdle()
}

// PendingTimers counts timers that have not fired or been canceled.
func (l *TestLoop) PendingTimers() int {
	n := 0
	for _, tm := range l.timers {
		if tm.task.Pending() {
			n++
		}
	}
	return n
}

type timer struct {
	deadline time.Time
	seq      uint64
	task     *Task
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(*timer)) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}
