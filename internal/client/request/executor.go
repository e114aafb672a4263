// Package request runs asynchronous operations behind cancellable handles
// and delivers their results on an explicit Executor.
package request

import "sync"

// Executor runs completion callbacks.
type Executor interface {
	Execute(fn func())
}

// Inline runs callbacks on the goroutine that produced the result.
type Inline struct{}

func (Inline) Execute(fn func()) { fn() }

// Queue runs callbacks one at a time on its own goroutine, in submission
// order. Execute must not be called after Close.
type Queue struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
}

func NewQueue(buffer int) *Queue {
	q := &Queue{tasks: make(chan func(), buffer), done: make(chan struct{})}
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer close(q.done)
	for fn := range q.tasks {
		fn()
	}
}

func (q *Queue) Execute(fn func()) {
	q.tasks <- fn
}

// Close runs the callbacks already queued and stops the goroutine.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.tasks) })
	<-q.done
}
