package metrics

import "github.com/gammazero/deque"

// Window is the running mean of the last size samples. It is not safe for
// concurrent use.
type Window struct {
	size    int
	samples deque.Deque[float64]
	sum     float64
}

// NewWindow creates a window of size samples. Sizes below 1 keep one sample.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{size: size}
}

// Add records a sample, evicting the oldest one when the window is full
func (w *Window) Add(v float64) {
	if w.samples.Len() == w.size {
		w.sum -= w.samples.PopFront()
	}
	w.samples.PushBack(v)
	w.sum += v
}

// Mean returns the mean of the samples in the window, or 0 without samples
func (w *Window) Mean() float64 {
	n := w.samples.Len()
	if n == 0 {
		return 0
	}
	return w.sum / float64(n)
}

func (w *Window) Len() int {
	return w.samples.Len()
}
