package dispatch

import (
	"math/rand"
	"time"
)

// Fallback window used whenever the delay config is missing or malformed.
const (
	fallbackMinSec = 2.0
	fallbackMaxSec = 5.0
)

// computeDelay turns a DelayConfig into one concrete inter-message wait.
//
// static  -> range[0] seconds, always.
// dynamic -> uniform in [range[0], range[1]] when range[1] > range[0].
// anything else -> uniform in [2,5] seconds.
func computeDelay(cfg DelayConfig) time.Duration {
	switch cfg.Mode {
	case DelayStatic:
		if len(cfg.Range) >= 1 && cfg.Range[0] >= 0 {
			return secs(cfg.Range[0])
		}
	case DelayDynamic:
		if len(cfg.Range) >= 2 && cfg.Range[0] >= 0 && cfg.Range[1] > cfg.Range[0] {
			return secs(cfg.Range[0] + rand.Float64()*(cfg.Range[1]-cfg.Range[0]))
		}
	}
	return secs(fallbackMinSec + rand.Float64()*(fallbackMaxSec-fallbackMinSec))
}

func secs(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
