package dashboard

// DefaultHistorySize is the number of refreshes kept per host.
const DefaultHistorySize = 30

// History keeps each host's running-container count over recent refreshes
// for the sparkline column. It is owned by the model and only touched from
// Update, so it needs no locking.
type History struct {
	size  int
	hosts map[string]*ringBuffer
}

// ringBuffer is a fixed-size circular buffer for float64 values.
type ringBuffer struct {
	data  []float64
	head  int
	count int
}

// NewHistory creates a history keeping size samples per host.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size, hosts: make(map[string]*ringBuffer)}
}

// Push records a sample for host.
func (h *History) Push(host string, v float64) {
	rb, ok := h.hosts[host]
	if !ok {
		rb = &ringBuffer{data: make([]float64, h.size)}
		h.hosts[host] = rb
	}
	rb.push(v)
}

// Last returns up to count of host's most recent samples, oldest first.
func (h *History) Last(host string, count int) []float64 {
	rb, ok := h.hosts[host]
	if !ok {
		return nil
	}
	return rb.last(count)
}

func (r *ringBuffer) push(v float64) {
	r.data[r.head] = v
	r.head = (r.head + 1) % len(r.data)
	if r.count < len(r.data) {
		r.count++
	}
}

func (r *ringBuffer) last(n int) []float64 {
	n = min(n, r.count)
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	start := (r.head - n + len(r.data)) % len(r.data)
	for i := range out {
		out[i] = r.data[(start+i)%len(r.data)]
	}
	return out
}
