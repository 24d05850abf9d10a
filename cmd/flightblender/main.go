// This package is the single HTTP server binary for the flight-blender
// federation substrate: it serves the peer-USS/operator HTTP surface and
// the process healthz/metrics endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/interuss/flight-blender/internal/config"
	"github.com/interuss/flight-blender/internal/httpapi"
	"github.com/interuss/flight-blender/internal/interrupt"
	"github.com/interuss/flight-blender/internal/middleware"
	"github.com/interuss/flight-blender/internal/setup"
	"github.com/interuss/flight-blender/pkg/logging"
	"github.com/interuss/flight-blender/pkg/server"
)

func main() {
	ctx, done := interrupt.Context()
	defer done()

	if err := realMain(ctx); err != nil {
		logger := logging.FromContext(ctx)
		logger.Fatal(err)
	}
}

func realMain(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	var cfg config.Config
	env, closeEnv, err := setup.Setup(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("setup.Setup: %w", err)
	}
	defer closeEnv()

	if err := server.ServeMetricsIfPrometheus(ctx); err != nil {
		return fmt.Errorf("server.ServeMetricsIfPrometheus: %w", err)
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Gate:       env.Gate,
		Flights:    env.Flights,
		Federation: env.Federation,
		Store:      env.Store,
		HTTPClient: env.HTTPClient,
		GeozoneCfg: cfg.Geozone,
	})
	router.Handle("/healthz", server.HandleHealthz(ctx))

	top := mux.NewRouter()
	top.Use(middleware.Recovery())
	top.Use(middleware.ProcessMaintenance(&cfg))
	top.PathPrefix("/").Handler(router)

	addr := fmt.Sprintf(":%s", env.Port)
	srv := &http.Server{Addr: addr, Handler: top}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("starting flight-blender http server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}
