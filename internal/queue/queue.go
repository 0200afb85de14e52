// Package queue implements the named, priority-ordered cooperative task
// queues from spec §4.B. Scheduling is cooperative in spirit (a task never
// preempts another) but is realized with goroutines rather than a single
// event loop, since this is a multi-threaded Go runtime rather than the
// single-threaded substrate spec §5 describes; ordering guarantees (§8
// property 6) are preserved by running each named queue at its configured
// concurrency, defaulting to 1 so priority-then-FIFO order is observable.
package queue

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/AlexLonberg/js-api-router/internal/telemetry"
)

// Task is a unit of work submitted to a named queue.
type Task func(ctx context.Context) error

// Handle lets a caller wait on a submitted task's settlement.
type Handle struct {
	done chan struct{}
	err  error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) resolve(err error) {
	h.err = err
	close(h.done)
}

// Done returns a channel closed once the task has settled (run or been
// unlinked by cancellation before it started).
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the task settles and returns its error, if any.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Err returns the task's error; only valid after Done() is closed.
func (h *Handle) Err() error { return h.err }

type taskNode struct {
	task     Task
	priority int
	seq      uint64
	ctx      context.Context
	handle   *Handle
	index    int
	started  bool
	stop     func() bool // cancels the AfterFunc watcher once the node is no longer pending
}

// priorityHeap orders nodes highest-priority-first, FIFO (lowest seq first)
// among equal priorities — invariant (h) from spec §3.
type priorityHeap []*taskNode

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *priorityHeap) Push(x interface{}) {
	n := x.(*taskNode)
	n.index = len(*h)
	*h = append(*h, n)
}
func (h *priorityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// AsyncQueue is a single named cooperative priority queue.
type AsyncQueue struct {
	key         string
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	mu          sync.Mutex
	heap        priorityHeap
	seq         uint64
	running     int
	concurrency int
}

// SetMetrics attaches a telemetry sink; a nil m disables reporting.
func (q *AsyncQueue) SetMetrics(m *telemetry.Metrics) {
	q.mu.Lock()
	q.metrics = m
	q.mu.Unlock()
}

// NewAsyncQueue creates a queue for one key with the given maximum
// concurrency (the number of tasks it will run simultaneously).
func NewAsyncQueue(key string, concurrency int, logger *slog.Logger) *AsyncQueue {
	if concurrency < 1 {
		concurrency = 1
	}
	return &AsyncQueue{
		key:         key,
		logger:      logger,
		concurrency: concurrency,
	}
}

// SetConcurrency raises the queue's concurrency to at least n. Per §4.B,
// when multiple configs share a queueKey with different limits, the
// implementation takes the maximum across uses.
func (q *AsyncQueue) SetConcurrency(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > q.concurrency {
		q.concurrency = n
	}
}

// Add inserts a task at the given priority. If ctx is cancelled before the
// task starts running, the node is unlinked and the handle resolves with
// ctx.Err(); once started, the queue never re-checks ctx (the task itself
// must honor it).
func (q *AsyncQueue) Add(ctx context.Context, priority int, task Task) *Handle {
	if ctx == nil {
		ctx = context.Background()
	}
	h := newHandle()
	node := &taskNode{task: task, priority: priority, ctx: ctx, handle: h}

	q.mu.Lock()
	q.seq++
	node.seq = q.seq
	heap.Push(&q.heap, node)
	shouldSchedule := q.running < q.concurrency
	q.mu.Unlock()

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() { q.unlink(node) })
		node.stop = stop
	}

	if shouldSchedule {
		go q.drain()
	}
	return h
}

func (q *AsyncQueue) unlink(node *taskNode) {
	q.mu.Lock()
	if node.started || node.index < 0 {
		q.mu.Unlock()
		return
	}
	heap.Remove(&q.heap, node.index)
	q.mu.Unlock()
	node.handle.resolve(node.ctx.Err())
}

// drain runs one worker loop: pop the highest-priority pending node and run
// it, repeating until the queue is empty or concurrency is saturated.
func (q *AsyncQueue) drain() {
	for {
		q.mu.Lock()
		if q.heap.Len() == 0 || q.running >= q.concurrency {
			q.mu.Unlock()
			return
		}
		node := heap.Pop(&q.heap).(*taskNode)
		node.started = true
		if node.stop != nil {
			node.stop()
		}
		q.running++
		q.mu.Unlock()

		q.runOne(node)

		q.mu.Lock()
		q.running--
		depth, running, metrics := q.heap.Len(), q.running, q.metrics
		q.mu.Unlock()
		metrics.ObserveQueueStats(q.key, depth, running)
	}
}

func (q *AsyncQueue) runOne(node *taskNode) {
	defer func() {
		if r := recover(); r != nil {
			if q.logger != nil {
				q.logger.Error("task panicked", "queue", q.key, "panic", r)
			}
			node.handle.resolve(nil)
		}
	}()
	err := node.task(node.ctx)
	if err != nil {
		if q.logger != nil {
			q.logger.Warn("task failed", "queue", q.key, "error", err)
		}
		q.mu.Lock()
		metrics := q.metrics
		q.mu.Unlock()
		metrics.IncTaskFailure(q.key)
	}
	node.handle.resolve(err)
}

// Stats reports the current pending depth and number of tasks in flight.
func (q *AsyncQueue) Stats() (depth, running int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len(), q.running
}

// NamedAsyncQueue lazily creates one AsyncQueue per string key.
type NamedAsyncQueue struct {
	logger  *slog.Logger
	metrics *telemetry.Metrics
	mu      sync.Mutex
	queues  map[string]*AsyncQueue
	hits    atomic.Int64
}

// NewNamedAsyncQueue creates an empty named-queue registry.
func NewNamedAsyncQueue(logger *slog.Logger) *NamedAsyncQueue {
	return &NamedAsyncQueue{logger: logger, queues: make(map[string]*AsyncQueue)}
}

// SetMetrics attaches a telemetry sink applied to every queue created from
// this point on (existing queues are updated immediately too).
func (n *NamedAsyncQueue) SetMetrics(m *telemetry.Metrics) {
	n.mu.Lock()
	n.metrics = m
	queues := make([]*AsyncQueue, 0, len(n.queues))
	for _, q := range n.queues {
		queues = append(queues, q)
	}
	n.mu.Unlock()
	for _, q := range queues {
		q.SetMetrics(m)
	}
}

// queueFor returns (creating if necessary) the queue for key, raising its
// concurrency to at least concurrency.
func (n *NamedAsyncQueue) queueFor(key string, concurrency int) *AsyncQueue {
	n.mu.Lock()
	q, ok := n.queues[key]
	if !ok {
		q = NewAsyncQueue(key, concurrency, n.logger)
		q.metrics = n.metrics
		n.queues[key] = q
	}
	n.mu.Unlock()
	q.SetConcurrency(concurrency)
	return q
}

// Add submits a task to the named queue, creating it on first use.
func (n *NamedAsyncQueue) Add(ctx context.Context, key string, concurrency int, priority int, task Task) *Handle {
	n.hits.Add(1)
	return n.queueFor(key, concurrency).Add(ctx, priority, task)
}

// Stats reports the pending depth and running count for a named queue. The
// second return is false if the key has never been used.
func (n *NamedAsyncQueue) Stats(key string) (depth, running int, ok bool) {
	n.mu.Lock()
	q, exists := n.queues[key]
	n.mu.Unlock()
	if !exists {
		return 0, 0, false
	}
	d, r := q.Stats()
	return d, r, true
}
