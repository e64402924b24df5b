package ctrl

// A sample is one (rate, power) measurement reported by the host loop.
type sample struct {
	rate  float64
	power float64
}

// sampleWindow is a fixed-capacity ring of the most recent samples. Once
// full, each push evicts the oldest sample. An under-full window is valid
// and averages over however many samples it holds.
type sampleWindow struct {
	samples []sample
	head    int
	count   int
}

func newSampleWindow(depth uint32) *sampleWindow {
	return &sampleWindow{
		samples: make([]sample, depth),
	}
}

func (w *sampleWindow) push(s sample) {
	w.samples[w.head] = s
	w.head = (w.head + 1) % len(w.samples)

	if w.count < len(w.samples) {
		w.count++
	}
}

// means returns the arithmetic mean rate and power over the current window
// contents. An empty window yields zeros.
func (w *sampleWindow) means() (rate, power float64) {
	if w.count == 0 {
		return 0, 0
	}

	for i := 0; i < w.count; i++ {
		rate += w.samples[i].rate
		power += w.samples[i].power
	}

	n := float64(w.count)

	return rate / n, power / n
}
