package delivery

// deque is a growable ring buffer. Pushes go to the back, pops come from the
// front, both amortized O(1).
type deque[T any] struct {
	buf  []T
	head int
	n    int
}

func (d *deque[T]) Len() int {
	return d.n
}

func (d *deque[T]) PushBack(v T) {
	if d.n == len(d.buf) {
		d.grow()
	}
	d.buf[(d.head+d.n)%len(d.buf)] = v
	d.n++
}

// Front returns the oldest element. It panics on an empty deque.
func (d *deque[T]) Front() T {
	if d.n == 0 {
		panic("deque: Front on empty deque")
	}
	return d.buf[d.head]
}

func (d *deque[T]) PopFront() T {
	if d.n == 0 {
		panic("deque: PopFront on empty deque")
	}
	var zero T
	v := d.buf[d.head]
	d.buf[d.head] = zero
	d.head = (d.head + 1) % len(d.buf)
	d.n--
	return v
}

// At returns the i-th element counted from the front.
func (d *deque[T]) At(i int) T {
	if i < 0 || i >= d.n {
		panic("deque: index out of range")
	}
	return d.buf[(d.head+i)%len(d.buf)]
}

func (d *deque[T]) Clear() {
	clear(d.buf)
	d.head = 0
	d.n = 0
}

func (d *deque[T]) grow() {
	size := len(d.buf) * 2
	if size == 0 {
		size = 16
	}
	buf := make([]T, size)
	for i := 0; i < d.n; i++ {
		buf[i] = d.buf[(d.head+i)%len(d.buf)]
	}
	d.buf = buf
	d.head = 0
}

// outstanding is a transmitted message waiting for its ack.
type outstanding struct {
	seq     int64
	payload []byte
	sent    bool
}

// resendBuffer holds outstanding messages ordered by sequence without gaps.
type resendBuffer struct {
	q deque[outstanding]
}

func (r *resendBuffer) Len() int {
	return r.q.Len()
}

// Append adds the next sequence. seq must follow the last one.
func (r *resendBuffer) Append(seq int64, payload []byte, sent bool) {
	if r.q.Len() > 0 {
		if last := r.q.At(r.q.Len() - 1).seq; seq != last+1 {
			panic("resend buffer: non contiguous sequence")
		}
	}
	r.q.PushBack(outstanding{seq: seq, payload: payload, sent: sent})
}

// PurgeThrough drops every entry with a sequence <= ack and returns how many
// were dropped.
func (r *resendBuffer) PurgeThrough(ack int64) int {
	n := 0
	for r.q.Len() > 0 && r.q.Front().seq <= ack {
		r.q.PopFront()
		n++
	}
	return n
}

// Each visits entries in ascending order until fn returns false.
func (r *resendBuffer) Each(fn func(o *outstanding) bool) {
	for i := 0; i < r.q.Len(); i++ {
		idx := (r.q.head + i) % len(r.q.buf)
		if !fn(&r.q.buf[idx]) {
			return
		}
	}
}

func (r *resendBuffer) Clear() {
	r.q.Clear()
}
