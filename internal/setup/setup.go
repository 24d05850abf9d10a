// Package setup runs the common initialization every flight-blender
// binary needs: bind environment configuration, then construct and wire
// the domain collaborators (KV store, authority broker, JWKS cache,
// scope gate, federation coordinator) into a serverenv.ServerEnv.
package setup

import (
	"context"
	"fmt"
	"net/http"

	envconfig "github.com/sethvargo/go-envconfig"

	"github.com/interuss/flight-blender/internal/authgate"
	"github.com/interuss/flight-blender/internal/authority"
	"github.com/interuss/flight-blender/internal/config"
	"github.com/interuss/flight-blender/internal/federation"
	"github.com/interuss/flight-blender/internal/jwksverify"
	"github.com/interuss/flight-blender/internal/kv"
	"github.com/interuss/flight-blender/internal/serverenv"
	"github.com/interuss/flight-blender/pkg/logging"
)

// Defer is a function returned from Setup to be deferred until the
// caller exits.
type Defer func()

// Setup binds environment configuration into cfg, constructs every
// domain collaborator, and returns the wired ServerEnv.
func Setup(ctx context.Context, cfg *config.Config) (*serverenv.ServerEnv, Defer, error) {
	logger := logging.FromContext(ctx)

	if err := envconfig.Process(ctx, cfg); err != nil {
		return nil, nil, fmt.Errorf("error loading environment variables: %w", err)
	}
	logger.Infow("effective configuration", "port", cfg.Port, "is_debug", cfg.IsDebug, "use_redis", cfg.UseRedis)

	httpClient := &http.Client{}

	var store kv.Store
	var closeStore Defer = func() {}
	if cfg.UseRedis {
		redisStore := kv.NewRedis(cfg.Redis)
		if err := redisStore.HealthCheck(ctx); err != nil {
			return nil, nil, fmt.Errorf("unable to connect to redis: %w", err)
		}
		store = redisStore
		closeStore = func() { redisStore.Close() }
	} else {
		store = kv.NewMemory()
	}

	broker := authority.New(cfg.Authority, store, httpClient)
	jwks := jwksverify.New(cfg.JWKS, nil)
	gate := authgate.New(cfg.Gate, jwks)
	coordinator := federation.New(cfg.Federation, broker, store, httpClient, nil)

	env := serverenv.New(
		serverenv.WithPort(cfg.Port),
		serverenv.WithStore(store),
		serverenv.WithBroker(broker),
		serverenv.WithGate(gate),
		serverenv.WithFederation(coordinator),
		serverenv.WithHTTPClient(httpClient),
	)

	return env, closeStore, nil
}
