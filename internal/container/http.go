package container

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	"github.com/samber/do"
	"github.com/serroba/consultation-ratelimit/internal/analytics"
	"github.com/serroba/consultation-ratelimit/internal/auth"
	"github.com/serroba/consultation-ratelimit/internal/handlers"
	"github.com/serroba/consultation-ratelimit/internal/health"
	"github.com/serroba/consultation-ratelimit/internal/messaging"
	"github.com/serroba/consultation-ratelimit/internal/middleware"
	"github.com/serroba/consultation-ratelimit/internal/ratelimit"
	"go.uber.org/zap"
)

// HTTPPackage provides the chi router and the huma API with every route registered.
func HTTPPackage(injector *do.Injector) {
	do.Provide(injector, func(_ *do.Injector) (*chi.Mux, error) {
		router := chi.NewMux()
		router.Use(middleware.CORS)
		router.MethodNotAllowed(middleware.MethodNotAllowed)
		router.NotFound(middleware.NotFound)

		return router, nil
	})

	do.Provide(injector, func(i *do.Injector) (*handlers.RateLimitHandler, error) {
		opts := do.MustInvoke[*Options](i)

		engine, err := do.Invoke[*ratelimit.Engine](i)
		if err != nil {
			return nil, err
		}

		verifier, err := do.Invoke[auth.Verifier](i)
		if err != nil {
			return nil, err
		}

		publish, err := do.Invoke[messaging.Publish[analytics.DecisionEvent]](i)
		if err != nil {
			return nil, err
		}

		return handlers.NewRateLimitHandler(
			engine,
			do.MustInvoke[handlers.ConfigGate](i),
			verifier,
			publish,
			do.MustInvoke[*zap.Logger](i),
			handlers.WithDevUser(opts.DevUserID),
			handlers.WithWindowOverride(opts.AllowWindowOverride),
		), nil
	})

	do.Provide(injector, func(i *do.Injector) (*health.Handler, error) {
		opts := do.MustInvoke[*Options](i)
		checkers := map[string]health.Checker{}

		if opts.usesRedis() {
			checkers["redis"] = health.NewRedisChecker(do.MustInvoke[*RedisClient](i).Client)
		}

		if opts.Store == StorePostgres {
			checkers["postgres"] = health.NewPostgresChecker(do.MustInvoke[*PostgresPool](i).Pool)
		}

		return health.NewHandler(checkers), nil
	})

	do.Provide(injector, func(i *do.Injector) (huma.API, error) {
		router := do.MustInvoke[*chi.Mux](i)

		rateLimitHandler, err := do.Invoke[*handlers.RateLimitHandler](i)
		if err != nil {
			return nil, err
		}

		api := humachi.New(router, handlers.APIConfig("Consultation Rate Limiter", "1.0.0"))
		api.UseMiddleware(middleware.RequestMeta(api))

		handlers.RegisterRoutes(api, rateLimitHandler)
		health.RegisterRoutes(api, do.MustInvoke[*health.Handler](i))

		return api, nil
	})
}
