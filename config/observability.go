package config

// MetricsConfig controls the Prometheus listener. It is separate from the
// public API port so scrapes and readiness probes are never rate limited.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Addr serves /metrics, /health (liveness) and /ready, which fails
	// while the donation redis backend is unhealthy. Default ":9090".
	Addr string `yaml:"addr"`
}

// PprofConfig controls the optional profiling listener, off by default.
// Keep Addr on loopback: pprof exposes goroutine stacks that include
// relay request state.
type PprofConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Addr    string `yaml:"addr,omitempty"`
}
