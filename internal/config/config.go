package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultPort = 8080
	DefaultHost = "0.0.0.0"

	DefaultFileWriteDelay = 150 * time.Millisecond // Small delay to ensure file write is complete
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults for all
// router subsystems.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Router: RouterConfig{
			MaxRetries:     3,
			AttemptTimeout: 30 * time.Second,
			Quarantine:     30 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			HalfOpenMaxCalls: 3,
			SuccessThreshold: 2,
		},
		Health: HealthConfig{
			WorkerCount:      10,
			CheckTimeout:     5 * time.Second,
			CheckInterval:    10 * time.Second,
			UnhealthyAfter:   3,
			HealthyAfter:     2,
			QuarantineWindow: 30 * time.Second,
		},
		Pool: PoolConfig{
			MaxIdleConns:        100,
			MaxConnsPerHost:     50,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			DialTimeout:         10 * time.Second,
		},
		Fault: FaultConfig{
			KillSwitch:       false,
			DegradationLevel: "none",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load loads configuration from file and INFOROUTE_-prefixed environment
// variables, merging onto DefaultConfig. Per-engine upstream endpoints
// may additionally be supplied via the plain <ENGINE>_URL variables
// (VLLM_URL, TGI_URL, SGLANG_URL, OLLAMA_URL, TENSORRT_LLM_URL,
// LMDEPLOY_URL, DEEPSPEED_URL) for parity with the reference deployment
// scripts; Load itself merges these into Engines.Upstreams via
// applyEndpointEnvOverrides.
func Load(onConfigChange func()) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("INFOROUTE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("INFOROUTE_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	applyEndpointEnvOverrides(config)

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return
			}
			lastReload = now

			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}
	return config, nil
}

// engineURLEnvVars maps each engine type to the plain (unprefixed) env
// var the reference docker-compose deployment uses for its endpoint.
var engineURLEnvVars = map[string]string{
	"vllm":         "VLLM_URL",
	"tgi":          "TGI_URL",
	"sglang":       "SGLANG_URL",
	"ollama":       "OLLAMA_URL",
	"tensorrt-llm": "TENSORRT_LLM_URL",
	"lmdeploy":     "LMDEPLOY_URL",
	"deepspeed":    "DEEPSPEED_URL",
}

// applyEndpointEnvOverrides lets a bare <ENGINE>_URL env var override
// (or add, with default priority 100) the endpoint of the first
// configured upstream of that engine type.
func applyEndpointEnvOverrides(config *Config) {
	for engineType, envVar := range engineURLEnvVars {
		url := os.Getenv(envVar)
		if url == "" {
			continue
		}
		found := false
		for i := range config.Engines.Upstreams {
			if config.Engines.Upstreams[i].EngineType == engineType {
				config.Engines.Upstreams[i].Endpoint = url
				found = true
				break
			}
		}
		if !found {
			config.Engines.Upstreams = append(config.Engines.Upstreams, UpstreamConfig{
				EngineType: engineType,
				Endpoint:   url,
				Priority:   100,
			})
		}
	}
}
