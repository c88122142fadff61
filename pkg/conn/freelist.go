package conn

// FreeList recycles Conn structs across accepts. It is touched only by
// the single serving thread, so it needs no lock.
type FreeList struct {
	free []*Conn
}

// Get returns a pooled Conn bound to fd, or a fresh one if the pool is
// empty.
func (f *FreeList) Get(fd int, dispatcher Dispatcher) *Conn {
	if n := len(f.free); n > 0 {
		c := f.free[n-1]
		f.free = f.free[:n-1]
		c.Reset(fd, dispatcher)
		return c
	}
	return New(fd, dispatcher)
}

// Put closes c's socket and returns the struct to the pool for reuse.
func (f *FreeList) Put(c *Conn) {
	_ = c.Close()
	f.free = append(f.free, c)
}
