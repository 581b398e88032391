package host

import "sync/atomic"

// Slot holds the host bound to the currently attached guest. At most one
// guest is attached at a time.
type Slot struct {
	cur atomic.Pointer[Host]
}

// Current returns the attached host, or nil.
func (s *Slot) Current() *Host {
	return s.cur.Load()
}

// Attach binds h if no host is attached and reports whether it did.
func (s *Slot) Attach(h *Host) bool {
	return s.cur.CompareAndSwap(nil, h)
}

// Detach unbinds h. It is a no-op when h is no longer current.
func (s *Slot) Detach(h *Host) {
	s.cur.CompareAndSwap(h, nil)
}
