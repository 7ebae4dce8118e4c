package dispatch

import (
	"testing"
	"time"
)

func TestComputeDelayStatic(t *testing.T) {
	t.Parallel()
	d := computeDelay(DelayConfig{Mode: DelayStatic, Range: []float64{1.5}})
	if d != 1500*time.Millisecond {
		t.Errorf("static delay = %v, want 1.5s", d)
	}
	if d := computeDelay(DelayConfig{Mode: DelayStatic, Range: []float64{0}}); d != 0 {
		t.Errorf("static zero delay = %v, want 0", d)
	}
}

func TestComputeDelayDynamicBounds(t *testing.T) {
	t.Parallel()
	cfg := DelayConfig{Mode: DelayDynamic, Range: []float64{1, 3}}
	for i := 0; i < 500; i++ {
		d := computeDelay(cfg)
		if d < time.Second || d > 3*time.Second {
			t.Fatalf("dynamic delay %v outside [1s,3s]", d)
		}
	}
}

func TestComputeDelayFallback(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		cfg  DelayConfig
	}{
		{"empty config", DelayConfig{}},
		{"unknown mode", DelayConfig{Mode: "jitter", Range: []float64{1}}},
		{"static missing range", DelayConfig{Mode: DelayStatic}},
		{"static negative", DelayConfig{Mode: DelayStatic, Range: []float64{-1}}},
		{"dynamic single value", DelayConfig{Mode: DelayDynamic, Range: []float64{1}}},
		{"dynamic inverted range", DelayConfig{Mode: DelayDynamic, Range: []float64{5, 2}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for i := 0; i < 100; i++ {
				d := computeDelay(tc.cfg)
				if d < 2*time.Second || d > 5*time.Second {
					t.Fatalf("fallback delay %v outside [2s,5s]", d)
				}
			}
		})
	}
}
