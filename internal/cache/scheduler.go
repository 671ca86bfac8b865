package cache

// Scheduler runs the producer task. *pool.Pool and *conc.WaitGroup from
// github.com/sourcegraph/conc satisfy it.
type Scheduler interface {
	Go(task func())
}

// SchedulerFunc adapts a function to a Scheduler.
type SchedulerFunc func(task func())

// Go calls f(task).
func (f SchedulerFunc) Go(task func()) {
	f(task)
}

// goroutineScheduler starts every task on its own goroutine.
var goroutineScheduler Scheduler = SchedulerFunc(func(task func()) {
	go task()
})
