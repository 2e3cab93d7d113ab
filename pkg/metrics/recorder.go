package metrics

import "time"

// Recorder receives operation counters and latencies from the adapters and controller
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Labels builds the standard label set for a chain operation
func Labels(chain, result string) map[string]string {
	return map[string]string{"chain": chain, "result": result}
}

// Result maps an operation error to a result label
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Track records the counter and latency of an operation that started at start
func Track(r Recorder, op, chain string, start time.Time, err error) {
	if r == nil {
		return
	}
	labels := Labels(chain, Result(err))
	r.IncCounter(op, labels)
	r.ObserveLatency(op, time.Since(start), labels)
}
