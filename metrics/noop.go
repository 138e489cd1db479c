package metrics

import "time"

// NoopRecorder discards all observations. Used when no Recorder is
// configured.
type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
