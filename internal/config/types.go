package config

import "time"

// Config holds all configuration for the router.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Server   ServerConfig   `yaml:"server"`
	Router   RouterConfig   `yaml:"router"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Health   HealthConfig   `yaml:"health"`
	Pool     PoolConfig     `yaml:"pool"`
	Fault    FaultConfig    `yaml:"fault"`
	Engines  EnginesConfig  `yaml:"engines"`
}

// ServerConfig holds the inbound HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RouterConfig mirrors router.Config's tunables.
type RouterConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	Quarantine     time.Duration `yaml:"quarantine"`
}

// BreakerConfig mirrors breaker.Config's tunables.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

// HealthConfig mirrors health.Config's tunables.
type HealthConfig struct {
	WorkerCount      int           `yaml:"worker_count"`
	CheckTimeout     time.Duration `yaml:"check_timeout"`
	CheckInterval    time.Duration `yaml:"check_interval"`
	UnhealthyAfter   int           `yaml:"unhealthy_after"`
	HealthyAfter     int           `yaml:"healthy_after"`
	QuarantineWindow time.Duration `yaml:"quarantine_window"`
}

// PoolConfig mirrors pool.Config's tunables.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout"`
	DialTimeout         time.Duration `yaml:"dial_timeout"`
}

// FaultConfig seeds the Fault Domain Manager's initial state.
type FaultConfig struct {
	KillSwitch       bool   `yaml:"kill_switch"`
	DegradationLevel string `yaml:"degradation_level"`
}

// EnginesConfig lists the upstream engines this router dispatches to.
type EnginesConfig struct {
	Upstreams []UpstreamConfig `yaml:"upstreams"`
}

// UpstreamConfig describes one configured engine upstream.
type UpstreamConfig struct {
	EngineType string   `yaml:"engine_type"` // vllm, tgi, sglang, ollama, tensorrt-llm, lmdeploy, deepspeed
	Endpoint   string   `yaml:"endpoint"`
	Models     []string `yaml:"models"`
	Priority   int      `yaml:"priority"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}
