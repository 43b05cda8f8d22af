package config

// DefaultConfig returns the built-in configuration: a 60 minute lock TTL,
// 15 minute stale threshold, and a sweep every 2 minutes.
func DefaultConfig() *Config {
	return &Config{
		LockTTLMinutes:        60,
		StaleThresholdMinutes: 15,
		SweepIntervalMinutes:  2,
		HeartbeatSeconds:      60,
		DatabasePath:          ".coordinator/state.db",
		TaskDir:               "tasks",
	}
}
