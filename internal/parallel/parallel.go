// Package parallel splits independent per-sample kernel work across goroutines.
//
// Every index is visited exactly once and callers write only to state owned
// by that index, so results do not depend on scheduling.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Upper bound on worker goroutines.
	MinChunkSize int  // Minimum items per goroutine.
}

// DefaultConfig returns defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 64,
	}
}

// SampleConfig is tuned for kernels that iterate over matrix columns.
// A single sample already carries a full image, so chunks are small.
func SampleConfig() Config {
	cfg := DefaultConfig()
	cfg.MinChunkSize = 2
	return cfg
}

// Chunks calls f once per contiguous range [start, end) covering [0, n).
// It runs sequentially when parallelism is disabled or n is below MinChunkSize.
func Chunks(n int, cfg Config, f func(start, end int)) {
	if n <= 0 {
		return
	}
	if !cfg.Enabled || cfg.NumWorkers < 2 || n < 2*max(cfg.MinChunkSize, 1) {
		f(0, n)
		return
	}

	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize, 1)

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			f(s, e)
		}(start, end)
	}
	wg.Wait()
}

// For executes f(i) for i in [0, n).
func For(n int, f func(i int), cfg Config) {
	Chunks(n, cfg, func(start, end int) {
		for i := start; i < end; i++ {
			f(i)
		}
	})
}

// ForSamples runs f(sample, position) over every output position of every
// sample. Work is split by sample only.
func ForSamples(samples, positions int, f func(s, p int), cfg Config) {
	For(samples, func(s int) {
		for p := 0; p < positions; p++ {
			f(s, p)
		}
	}, cfg)
}
