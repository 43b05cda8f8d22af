package config

import "time"

// Config is the top-level coordination configuration.
type Config struct {
	LockTTLMinutes        int    `json:"lock_ttl_minutes"`
	StaleThresholdMinutes int    `json:"stale_threshold_minutes"`
	SweepIntervalMinutes  int    `json:"sweep_interval_minutes"`
	HeartbeatSeconds      int    `json:"heartbeat_seconds"`
	DatabasePath          string `json:"database_path"`
	TaskDir               string `json:"task_dir"`
}

// LockTTL returns the configured lock time-to-live.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// StaleThreshold returns how long an agent may miss heartbeats before
// reclamation removes it.
func (c *Config) StaleThreshold() time.Duration {
	return time.Duration(c.StaleThresholdMinutes) * time.Minute
}

// SweepInterval returns the cadence of the background reclamation pass.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// HeartbeatInterval returns how often a held agent refreshes its heartbeat.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}
