package batch

import "sync"

// Pool reuses Writer buffers across commits to reduce allocation pressure
// under high-throughput batch ingestion: a sync.Pool of pre-allocated
// batch buffers, reset on Get and returned on Put.
type Pool struct {
	pool sync.Pool
	new  func() *Writer
}

// NewPool creates a Pool. newWriter constructs a fresh Writer bound to
// the caller's memtables/wal/lock (every pooled Writer shares those
// dependencies; only the op buffer is reset between uses).
func NewPool(newWriter func() *Writer) *Pool {
	p := &Pool{new: newWriter}
	p.pool.New = func() any { return newWriter() }
	return p
}

// Get returns a cleared Writer ready for use.
func (p *Pool) Get() *Writer {
	w := p.pool.Get().(*Writer)
	w.Clear()
	return w
}

// Put returns w to the pool. Writers whose buffer grew unusually large
// are discarded rather than retained, so one oversized batch doesn't
// pin that memory for the pool's lifetime.
func (p *Pool) Put(w *Writer) {
	const maxRetainedOps = 4096
	if cap(w.ops) > maxRetainedOps {
		return
	}
	p.pool.Put(w)
}
