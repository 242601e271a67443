package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/olla-project/inforoute/internal/adapter/engine/deepspeed"
	"github.com/olla-project/inforoute/internal/adapter/engine/ollama"
	"github.com/olla-project/inforoute/internal/adapter/engine/openaicompat"
	"github.com/olla-project/inforoute/internal/adapter/engine/tgi"
	"github.com/olla-project/inforoute/internal/breaker"
	"github.com/olla-project/inforoute/internal/config"
	"github.com/olla-project/inforoute/internal/core/domain"
	"github.com/olla-project/inforoute/internal/fault"
	"github.com/olla-project/inforoute/internal/health"
	"github.com/olla-project/inforoute/internal/logger"
	"github.com/olla-project/inforoute/internal/pool"
	"github.com/olla-project/inforoute/internal/registry"
	"github.com/olla-project/inforoute/internal/router"
	"github.com/olla-project/inforoute/internal/util"
	"github.com/olla-project/inforoute/internal/worker"
)

// runtime bundles every component of one constructed router process,
// the Go analogue of olla's Application struct but scoped to the
// core's dependency graph rather than a single HTTP server.
type runtime struct {
	cfg      *config.Config
	log      *slog.Logger
	pool     *pool.Pool
	registry *registry.Registry
	breaker  *breaker.Breaker
	health   *health.Monitor
	fault    *fault.Manager
	router   *router.Router
	worker   *worker.Queue
}

// capabilitiesFor returns the capability set an engine's adapter
// actually implements; only ollama's adapter implements Embeddings,
// the rest return ErrUnsupported.
func capabilitiesFor(engine domain.EngineType) []domain.Capability {
	caps := []domain.Capability{domain.CapabilityChat, domain.CapabilityCompletion, domain.CapabilityStreaming}
	if engine == domain.EngineOllama {
		caps = append(caps, domain.CapabilityEmbedding)
	}
	return caps
}

// newAdapter constructs the one concrete Adapter each EngineType maps
// to: vllm/sglang/tensorrt-llm/lmdeploy share the OpenAI-compatible
// adapter since their serving front ends all speak that wire format;
// tgi, ollama and deepspeed each have their own native protocol.
func newAdapter(engine domain.EngineType, endpoint string, client *http.Client) (domain.Adapter, error) {
	switch engine {
	case domain.EngineVLLM, domain.EngineSGLang, domain.EngineTensorRTLLM, domain.EngineLMDeploy:
		return openaicompat.New(engine, endpoint, client), nil
	case domain.EngineTGI:
		return tgi.New(endpoint, client), nil
	case domain.EngineOllama:
		return ollama.New(endpoint, client), nil
	case domain.EngineDeepSpeed:
		return deepspeed.New(endpoint, client), nil
	default:
		return nil, fmt.Errorf("unknown engine_type %q", engine)
	}
}

// buildRuntime wires every component named in the module layout
// against cfg: pool -> adapters -> registry -> breaker/health/fault ->
// router -> optional job worker. It does not start any background
// loop; callers decide which of health.Start/worker.Start to run.
func buildRuntime(cfg *config.Config, log *slog.Logger, styled *logger.StyledLogger) (*runtime, error) {
	// config.PoolConfig has no client-timeout/keep-alive fields of its
	// own; the per-call deadline is already the router's attempt
	// timeout, so the pooled *http.Client reuses it rather than
	// defining a second, possibly inconsistent, timeout knob.
	connPool := pool.New(pool.Config{
		MaxConnsPerHost: cfg.Pool.MaxConnsPerHost,
		MaxIdleConns:    cfg.Pool.MaxIdleConns,
		IdleConnTimeout: cfg.Pool.IdleConnTimeout,
		DialTimeout:     cfg.Pool.DialTimeout,
		KeepAlive:       pool.DefaultKeepAlive,
		ClientTimeout:   cfg.Router.AttemptTimeout,
	})

	reg := registry.New()
	var adapters []domain.Adapter

	for _, up := range cfg.Engines.Upstreams {
		engine := domain.EngineType(up.EngineType)
		if !engine.Valid() {
			return nil, fmt.Errorf("config: unknown engine_type %q for endpoint %q", up.EngineType, up.Endpoint)
		}
		// Config authors routinely leave a trailing slash on endpoints
		// (copy-pasted from a browser address bar); normalise once here
		// so every adapter's JoinURLPath sees a consistent base.
		up.Endpoint = util.NormaliseBaseURL(up.Endpoint)

		upstream := domain.Upstream{EngineType: engine, Endpoint: up.Endpoint}
		// Acquiring and immediately releasing a lease is how this
		// process obtains the pool's cached *http.Client for an
		// upstream without holding a semaphore slot for the
		// lifetime of the adapter; Pool.getOrCreate keys the client
		// by upstream so every later Acquire for the same upstream
		// returns the same transport.
		lease, err := connPool.Acquire(context.Background(), upstream)
		if err != nil {
			return nil, fmt.Errorf("config: acquiring transport for %s: %w", upstream, err)
		}
		client := lease.Client()
		lease.Release()

		adapter, err := newAdapter(engine, up.Endpoint, client)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)

		models := up.Models
		if len(models) == 0 {
			return nil, fmt.Errorf("config: upstream %s declares no models", upstream)
		}
		for _, modelID := range models {
			entry := domain.NewModelEntry(modelID, engine, up.Endpoint, up.Priority, capabilitiesFor(engine)...)
			entry.Adapter = adapter
			if err := reg.Register(entry); err != nil {
				return nil, err
			}
		}
	}
	reg.Seal()

	breakerMgr := breaker.New(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	})

	healthMon := health.New(health.Config{
		WorkerCount:      cfg.Health.WorkerCount,
		CheckTimeout:     cfg.Health.CheckTimeout,
		CheckInterval:    cfg.Health.CheckInterval,
		UnhealthyAfter:   cfg.Health.UnhealthyAfter,
		HealthyAfter:     cfg.Health.HealthyAfter,
		QuarantineWindow: cfg.Health.QuarantineWindow,
	}, log, adapters).WithStyledLogger(styled)

	faultMgr := fault.New()
	faultMgr.SetKillSwitch(cfg.Fault.KillSwitch)
	if level, ok := domain.ParseDegradationLevel(cfg.Fault.DegradationLevel); ok {
		faultMgr.SetDegradationLevel(level)
	}

	rcfg := router.DefaultConfig()
	rcfg.MaxRetries = cfg.Router.MaxRetries
	rcfg.AttemptTimeout = cfg.Router.AttemptTimeout
	rcfg.Quarantine = cfg.Router.Quarantine
	r := router.New(rcfg, log, reg, breakerMgr, healthMon, faultMgr).WithStyledLogger(styled)

	wq := worker.New(worker.DefaultConfig(), r.Route)

	return &runtime{
		cfg:      cfg,
		log:      log,
		pool:     connPool,
		registry: reg,
		breaker:  breakerMgr,
		health:   healthMon,
		fault:    faultMgr,
		router:   r,
		worker:   wq,
	}, nil
}
