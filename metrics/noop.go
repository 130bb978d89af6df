package metrics

import "time"

// Noop discards all recordings. Used when metrics are disabled and in tests.
type Noop struct{}

func (Noop) IncCounter(string, map[string]string)                    {}
func (Noop) ObserveLatency(string, time.Duration, map[string]string) {}
