package config

import (
	"os"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Host != DefaultHost {
		t.Errorf("Expected host %s, got %s", DefaultHost, cfg.Server.Host)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Expected port %d, got %d", DefaultPort, cfg.Server.Port)
	}
	if cfg.Router.MaxRetries != 3 {
		t.Errorf("Expected max retries 3, got %d", cfg.Router.MaxRetries)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("Expected breaker failure threshold 5, got %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Health.WorkerCount != 10 {
		t.Errorf("Expected health worker count 10, got %d", cfg.Health.WorkerCount)
	}
	if cfg.Pool.MaxConnsPerHost != 50 {
		t.Errorf("Expected pool max conns per host 50, got %d", cfg.Pool.MaxConnsPerHost)
	}
	if cfg.Fault.KillSwitch {
		t.Error("Expected kill switch disabled by default")
	}
	if cfg.Fault.DegradationLevel != "none" {
		t.Errorf("Expected degradation level 'none', got %s", cfg.Fault.DegradationLevel)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected log level 'info', got %s", cfg.Logging.Level)
	}
}

func TestLoadConfigWithoutFile(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Expected default port %d, got %d", DefaultPort, cfg.Server.Port)
	}
}

func TestApplyEndpointEnvOverridesAddsNewUpstream(t *testing.T) {
	t.Setenv("TGI_URL", "http://tgi.internal:8081")

	cfg := DefaultConfig()
	applyEndpointEnvOverrides(cfg)

	var found *UpstreamConfig
	for i := range cfg.Engines.Upstreams {
		if cfg.Engines.Upstreams[i].EngineType == "tgi" {
			found = &cfg.Engines.Upstreams[i]
		}
	}
	if found == nil {
		t.Fatal("expected a tgi upstream to be added from TGI_URL")
	}
	if found.Endpoint != "http://tgi.internal:8081" {
		t.Errorf("expected endpoint from env var, got %s", found.Endpoint)
	}
}

func TestApplyEndpointEnvOverridesReplacesExisting(t *testing.T) {
	t.Setenv("OLLAMA_URL", "http://ollama-override:11434")

	cfg := DefaultConfig()
	cfg.Engines.Upstreams = []UpstreamConfig{
		{EngineType: "ollama", Endpoint: "http://localhost:11434", Priority: 50},
	}
	applyEndpointEnvOverrides(cfg)

	if len(cfg.Engines.Upstreams) != 1 {
		t.Fatalf("expected override to replace in place, got %d upstreams", len(cfg.Engines.Upstreams))
	}
	if cfg.Engines.Upstreams[0].Endpoint != "http://ollama-override:11434" {
		t.Errorf("expected overridden endpoint, got %s", cfg.Engines.Upstreams[0].Endpoint)
	}
	if cfg.Engines.Upstreams[0].Priority != 50 {
		t.Errorf("expected existing priority to be preserved, got %d", cfg.Engines.Upstreams[0].Priority)
	}
}

func TestLoadConfigWithEnvironmentVariables(t *testing.T) {
	testEnvVars := map[string]string{
		"INFOROUTE_SERVER_PORT":   "9090",
		"INFOROUTE_SERVER_HOST":   "127.0.0.1",
		"INFOROUTE_LOGGING_LEVEL": "debug",
	}
	for k, v := range testEnvVars {
		t.Setenv(k, v)
	}

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090 from env, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Expected host 127.0.0.1 from env, got %s", cfg.Server.Host)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level debug from env, got %s", cfg.Logging.Level)
	}
	os.Unsetenv("INFOROUTE_SERVER_PORT")
}
