// Command flowllm-server is the external driver that assembles a
// internal/config.ServiceConfig from the environment, wires the core
// (Registry, Scheduler, OpRuntime, Dispatcher) and the peripheral LLM
// providers and Cache backend, then runs the HTTP and/or MCP service
// until an interrupt signal or a fatal listener error arrives.
//
// # Configuration
//
// Environment variables:
//
//	FLOWLLM_BACKEND           - "http", "mcp" or "cmd" (default: "http")
//	FLOWLLM_HTTP_HOST         - HTTP listen host (default: "", all interfaces)
//	FLOWLLM_HTTP_PORT         - HTTP listen port (default: 8080)
//	FLOWLLM_MCP_HOST          - MCP SSE listen host (default: "", all interfaces)
//	FLOWLLM_MCP_PORT          - MCP SSE listen port (default: 8081)
//	FLOWLLM_MCP_TRANSPORT     - MCP transport (default: "sse")
//	FLOWLLM_MAX_WORKERS       - worker pool size (default: 128)
//	FLOWLLM_ADMISSION_RATE_LIMIT - scheduler admission rate, submissions/sec (default: disabled)
//	FLOWLLM_ADMISSION_BURST   - token-bucket burst paired with the rate limit (default: 1)
//	FLOWLLM_SHUTDOWN_GRACE    - graceful shutdown timeout (default: "30s")
//	FLOWLLM_INVOCATION_TIMEOUT - per-invocation deadline (default: "2m")
//	FLOWLLM_LOCALE            - prompt fallback locale (default: "en")
//	FLOWLLM_CACHE_BACKEND     - "memory", "redis", "mongo" or "file" (default: "memory")
//	REDIS_URL, REDIS_PASSWORD - used when FLOWLLM_CACHE_BACKEND=redis
//	MONGO_URI, MONGO_DATABASE, MONGO_COLLECTION - used when FLOWLLM_CACHE_BACKEND=mongo
//	FLOWLLM_CACHE_DIR         - used when FLOWLLM_CACHE_BACKEND=file
//	FLOWLLM_FLOW_{NAME}       - flow expression source for flow NAME
//	FLOWLLM_FLOW_{NAME}_STREAM - "true" to expose NAME over SSE
//	ANTHROPIC_API_KEY, OPENAI_API_KEY - enable the matching LLM provider
//	  under registry name "default" when set (Anthropic when both are set)
//
// # Example
//
//	FLOWLLM_FLOW_GREET='EchoOp()' ANTHROPIC_API_KEY=sk-... ./flowllm-server
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"golang.org/x/time/rate"

	"github.com/flowllm-ai/flowllm/capability"
	"github.com/flowllm-ai/flowllm/dispatcher"
	"github.com/flowllm-ai/flowllm/flow"
	"github.com/flowllm-ai/flowllm/flowparser"
	"github.com/flowllm-ai/flowllm/httpservice"
	"github.com/flowllm-ai/flowllm/internal/config"
	"github.com/flowllm-ai/flowllm/mcpservice"
	"github.com/flowllm-ai/flowllm/op"
	"github.com/flowllm-ai/flowllm/opcache/filestore"
	"github.com/flowllm-ai/flowllm/opcache/mongostore"
	"github.com/flowllm-ai/flowllm/opcache/redisstore"
	"github.com/flowllm-ai/flowllm/ops/builtin"
	anthropicprovider "github.com/flowllm-ai/flowllm/providers/llm/anthropic"
	openaiprovider "github.com/flowllm-ai/flowllm/providers/llm/openai"
	"github.com/flowllm-ai/flowllm/registry"
	"github.com/flowllm-ai/flowllm/scheduler"
	"github.com/flowllm-ai/flowllm/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx := context.Background()

	cfg := config.Normalize(loadConfig())

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	reg := registry.New()
	builtin.Register(reg)
	if err := registerLLMProviders(reg); err != nil {
		return fmt.Errorf("register llm providers: %w", err)
	}

	cache, closeCache, err := buildCache(ctx)
	if err != nil {
		return fmt.Errorf("build cache: %w", err)
	}
	defer closeCache()

	schedOpts := []scheduler.Option{scheduler.WithLogger(logger), scheduler.WithMetrics(metrics)}
	if cfg.AdmissionRateLimit > 0 {
		schedOpts = append(schedOpts, scheduler.WithAdmissionRateLimit(rate.Limit(cfg.AdmissionRateLimit), cfg.AdmissionBurst))
	}
	sched := scheduler.New(cfg.ThreadPoolMaxWorkers, schedOpts...)
	rt := op.New(reg, sched, cache, op.WithLogger(logger), op.WithMetrics(metrics), op.WithLocale(cfg.Locale))

	flows, err := buildFlows(reg, cfg)
	if err != nil {
		return fmt.Errorf("build flows: %w", err)
	}

	disp := dispatcher.New(flows, rt,
		dispatcher.WithLogger(logger),
		dispatcher.WithMetrics(metrics),
		dispatcher.WithDefaultTimeout(cfg.InvocationTimeout))

	return serve(ctx, cfg, disp, logger)
}

// loadConfig reads a ServiceConfig from the environment, following the
// envOr/envIntOr/envDurationOr pattern the teacher's registry command uses.
func loadConfig() config.ServiceConfig {
	cfg := config.ServiceConfig{
		Backend: config.Backend(envOr("FLOWLLM_BACKEND", "http")),
		HTTP: config.HTTPConfig{
			Host: envOr("FLOWLLM_HTTP_HOST", ""),
			Port: envIntOr("FLOWLLM_HTTP_PORT", 8080),
		},
		MCP: config.MCPConfig{
			Host:      envOr("FLOWLLM_MCP_HOST", ""),
			Port:      envIntOr("FLOWLLM_MCP_PORT", 8081),
			Transport: envOr("FLOWLLM_MCP_TRANSPORT", "sse"),
		},
		ThreadPoolMaxWorkers: envIntOr("FLOWLLM_MAX_WORKERS", config.DefaultThreadPoolMaxWorkers),
		ShutdownGrace:        envDurationOr("FLOWLLM_SHUTDOWN_GRACE", 30*time.Second),
		InvocationTimeout:    envDurationOr("FLOWLLM_INVOCATION_TIMEOUT", 2*time.Minute),
		Locale:               envOr("FLOWLLM_LOCALE", "en"),
		Flows:                loadFlowConfigs(),
		AdmissionRateLimit:   envFloatOr("FLOWLLM_ADMISSION_RATE_LIMIT", 0),
		AdmissionBurst:       envIntOr("FLOWLLM_ADMISSION_BURST", 0),
	}
	return cfg
}

// loadFlowConfigs scans the environment for FLOWLLM_FLOW_{NAME} variables.
// A companion FLOWLLM_FLOW_{NAME}_STREAM=true exposes the flow over SSE.
func loadFlowConfigs() map[string]config.FlowConfig {
	const prefix = "FLOWLLM_FLOW_"
	flows := map[string]config.FlowConfig{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix) || strings.HasSuffix(k, "_STREAM") || strings.HasSuffix(k, "_DESCRIPTION") {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(k, prefix))
		flows[name] = config.FlowConfig{
			FlowContent: v,
			Description: os.Getenv(prefix + strings.ToUpper(name) + "_DESCRIPTION"),
			Stream:      envOr(prefix+strings.ToUpper(name)+"_STREAM", "false") == "true",
		}
	}
	return flows
}

// buildFlows compiles every configured flow's expression source into a
// composed Op via the FlowExpressionParser and wraps it in a Flow.
func buildFlows(reg *registry.Registry, cfg config.ServiceConfig) ([]*flow.Flow, error) {
	parser := flowparser.New(reg)
	flows := make([]*flow.Flow, 0, len(cfg.Flows))
	for name, fc := range cfg.Flows {
		composed, err := parser.Parse(fc.FlowContent)
		if err != nil {
			return nil, fmt.Errorf("flow %q: %w", name, err)
		}
		f, err := flow.New(name, composed, fc.Description, fc.Stream, fc.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("flow %q: %w", name, err)
		}
		flows = append(flows, f)
	}
	return flows, nil
}

// registerLLMProviders registers an LLM capability under the well-known
// "default" name for whichever provider has credentials in the
// environment. This is intentionally outside ServiceConfig: provider
// credential wiring is a driver concern, mirroring how the teacher's
// registry command builds its Redis client straight from the environment
// rather than from registry.Config.
func registerLLMProviders(reg *registry.Registry) error {
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		model := envOr("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest")
		reg.MustRegister(registry.CategoryLLM, registry.DefaultName, func() (any, error) {
			client, err := anthropicprovider.NewFromAPIKey(apiKey, model)
			if err != nil {
				return nil, err
			}
			return capability.LLM(client), nil
		})
		return nil
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		model := envOr("OPENAI_MODEL", "gpt-4o")
		reg.MustRegister(registry.CategoryLLM, registry.DefaultName, func() (any, error) {
			client, err := openaiprovider.NewFromAPIKey(apiKey, model)
			if err != nil {
				return nil, err
			}
			return capability.LLM(client), nil
		})
		return nil
	}
	return nil
}

// buildCache resolves the Op output cache backend (spec §4.3). The
// returned closer must be deferred by the caller to release the backing
// client/connection cleanly.
func buildCache(ctx context.Context) (op.Cache, func(), error) {
	switch envOr("FLOWLLM_CACHE_BACKEND", "memory") {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     envOr("REDIS_URL", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		return redisstore.New(rdb, envOr("FLOWLLM_CACHE_PREFIX", "flowllm:cache:")), func() { _ = rdb.Close() }, nil
	case "mongo":
		client, err := mongo.Connect(options.Client().ApplyURI(envOr("MONGO_URI", "mongodb://localhost:27017")))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to mongo: %w", err)
		}
		coll := client.Database(envOr("MONGO_DATABASE", "flowllm")).Collection(envOr("MONGO_COLLECTION", "op_cache"))
		return mongostore.New(coll), func() { _ = client.Disconnect(context.Background()) }, nil
	case "file":
		store, err := filestore.New(envOr("FLOWLLM_CACHE_DIR", "./.flowllm-cache"))
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		return op.NewMemoryCache(), func() {}, nil
	}
}

// serve starts the configured backend(s) and blocks until an interrupt
// signal or a fatal listener error arrives, then drains within
// cfg.ShutdownGrace before returning (supplemented "graceful shutdown"
// feature, modeled on the teacher's example/cmd/assistant lifecycle and
// registry.Registry.Run's gRPC server lifecycle).
func serve(ctx context.Context, cfg config.ServiceConfig, disp *dispatcher.Dispatcher, logger telemetry.Logger) error {
	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		errc <- nil
	}()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	if cfg.Backend == config.BackendHTTP || cfg.Backend == config.BackendCmd {
		addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
		srv := httpservice.New(addr, disp, httpservice.WithLogger(logger))
		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				logger.Info(ctx, "http server listening", "addr", addr)
				errc <- srv.ListenAndServe()
			}()
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error(context.Background(), "http server shutdown failed", "error", err)
			}
		}()
	}

	if cfg.Backend == config.BackendMCP || cfg.Backend == config.BackendCmd {
		addr := fmt.Sprintf("%s:%d", cfg.MCP.Host, cfg.MCP.Port)
		srv := mcpservice.New(addr, disp, mcpservice.WithLogger(logger))
		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				logger.Info(ctx, "mcp server listening", "addr", addr)
				errc <- srv.ListenAndServe()
			}()
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error(context.Background(), "mcp server shutdown failed", "error", err)
			}
		}()
	}

	err := <-errc
	cancel()
	wg.Wait()
	return err
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envFloatOr(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
