package swap

import (
	"sync"

	"pgkernel/caller"
	"pgkernel/lockorder"
	"pgkernel/mem"
)

// JobKind tags a Job as one of the two swap operations (spec.md §9's
// "tagged swap entries" note: a sum type, not a single struct with a
// null-discriminator field).
type JobKind int

const (
	SwapOutJob JobKind = iota
	SwapInJob
)

// Job is one swap-engine unit of work. Only the fields relevant to Kind
// are meaningful: SwapOutJob uses Frame, SwapInJob uses Env and VA.
type Job struct {
	Kind  JobKind
	Frame mem.FrameID
	Env   mem.EnvID
	VA    uintptr
	next  *Job
}

// jobPool is a fixed-size pool of Job nodes, grounded on mem.backRefPool's
// structure-cache idiom (itself from original_source/kern/pmap.c's
// pgswaps_init/pgswap_alloc): the FIFO must never allocate from the
// general heap on the eviction path, so nodes come from a pre-sized arena
// instead of container/list's per-push allocation.
type jobPool struct {
	mu    sync.Mutex
	nodes []Job
	free  *Job
}

func newJobPool(n int) *jobPool {
	if n < 1 {
		n = 1
	}
	p := &jobPool{nodes: make([]Job, n)}
	for i := range p.nodes {
		p.nodes[i].next = p.free
		p.free = &p.nodes[i]
	}
	return p
}

func (p *jobPool) alloc() *Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.free
	if n == nil {
		return nil
	}
	p.free = n.next
	*n = Job{}
	return n
}

func (p *jobPool) release(n *Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n.next = p.free
	p.free = n
}

// JobQueue is the single FIFO of swap jobs, processed one at a time with
// no intra-job reordering (spec.md §4.6): a singly linked list of nodes
// drawn from jobPool, in place of a general-purpose container.
type JobQueue struct {
	mu    sync.Mutex
	guard *lockorder.Guard
	pool  *jobPool
	head  *Job
	tail  *Job
	n     int
}

// NewJobQueue returns an empty job queue backed by a pool sized to
// capacity outstanding jobs. Callers size capacity to the slot table:
// each job pertains to at most one slot in flight.
func NewJobQueue(capacity int) *JobQueue {
	return &JobQueue{
		pool:  newJobPool(capacity),
		guard: lockorder.New(),
	}
}

// lock acquires the swap-job FIFO lock (spec.md §5 level 2).
func (q *JobQueue) lock() {
	q.guard.Acquire(lockorder.FIFO)
	q.mu.Lock()
}

// unlock releases the swap-job FIFO lock.
func (q *JobQueue) unlock() {
	q.mu.Unlock()
	q.guard.Release(lockorder.FIFO)
}

// Push enqueues a job at the tail. It panics if the pool is exhausted: the
// queue is sized to the slot table up front, so exhaustion is a kernel bug
// rather than an expected failure, mirroring mem.AddBackRef's panic on
// pool exhaustion.
func (q *JobQueue) Push(j Job) {
	n := q.pool.alloc()
	if n == nil {
		panic("swap: job queue pool exhausted\n\t<-" + caller.Dump(2))
	}
	*n = j
	n.next = nil

	q.lock()
	defer q.unlock()
	if q.tail == nil {
		q.head, q.tail = n, n
	} else {
		q.tail.next = n
		q.tail = n
	}
	q.n++
}

// Pop dequeues the head job, reporting whether one was available.
func (q *JobQueue) Pop() (Job, bool) {
	q.lock()
	n := q.head
	if n == nil {
		q.unlock()
		return Job{}, false
	}
	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}
	q.n--
	q.unlock()

	j := *n
	j.next = nil
	q.pool.release(n)
	return j, true
}

// Len returns the number of queued jobs.
func (q *JobQueue) Len() int {
	q.lock()
	defer q.unlock()
	return q.n
}
