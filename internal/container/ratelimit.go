package container

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/do"
	"github.com/serroba/consultation-ratelimit/internal/auth"
	"github.com/serroba/consultation-ratelimit/internal/handlers"
	"github.com/serroba/consultation-ratelimit/internal/ratelimit"
	"github.com/serroba/consultation-ratelimit/internal/store"
	"go.uber.org/zap"
)

// RateLimitPackage provides the counter store, the engine and the identity verifier.
func RateLimitPackage(injector *do.Injector) {
	do.Provide(injector, provideStore)

	do.Provide(injector, func(i *do.Injector) (*ratelimit.Engine, error) {
		return ratelimit.NewEngine(do.MustInvoke[ratelimit.Store](i), ratelimit.DefaultTable()), nil
	})

	do.Provide(injector, func(i *do.Injector) (auth.Verifier, error) {
		opts := do.MustInvoke[*Options](i)

		switch opts.AuthMode {
		case AuthRemote:
			return auth.NewRemoteVerifier(credentials(opts)), nil
		case AuthJWT:
			return auth.NewJWTVerifier(opts.JWTSecret), nil
		default:
			return nil, fmt.Errorf("unknown auth mode %q", opts.AuthMode)
		}
	})

	do.Provide(injector, func(i *do.Injector) (handlers.ConfigGate, error) {
		opts := do.MustInvoke[*Options](i)
		if opts.AuthMode == AuthJWT {
			return jwtGate{secret: opts.JWTSecret}, nil
		}

		return credentials(opts), nil
	})
}

func provideStore(i *do.Injector) (ratelimit.Store, error) {
	opts := do.MustInvoke[*Options](i)
	logger := do.MustInvoke[*zap.Logger](i)

	switch opts.Store {
	case StoreMemory:
		logger.Warn("using in-memory counters; limits are not shared between instances")

		return store.NewCounterMemoryStore(), nil
	case StoreRedis:
		retention, err := time.ParseDuration(opts.RedisRetention)
		if err != nil {
			return nil, fmt.Errorf("redis retention: %w", err)
		}

		client := do.MustInvoke[*RedisClient](i)

		return store.NewRedisCounterStore(client.Client, store.WithRetention(retention)), nil
	case StorePostgres:
		pool, err := do.Invoke[*PostgresPool](i)
		if err != nil {
			return nil, err
		}

		counters := store.NewPostgresCounterStore(pool.Pool)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := counters.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate rate limit schema: %w", err)
		}

		cacheTTL, err := opts.counterCacheTTL()
		if err != nil {
			return nil, err
		}

		if cacheTTL > 0 {
			client := do.MustInvoke[*RedisClient](i)

			return store.NewCachedCounterStore(counters, client.Client, cacheTTL), nil
		}

		return counters, nil
	default:
		return nil, fmt.Errorf("unknown store %q", opts.Store)
	}
}

func credentials(opts *Options) auth.Credentials {
	return auth.Credentials{
		Endpoint:   opts.AuthURL,
		PublicKey:  opts.PublicKey,
		ServiceKey: opts.ServiceKey,
	}
}

type jwtGate struct {
	secret string
}

func (g jwtGate) Validate() error {
	if g.secret == "" {
		return &auth.MissingConfigError{Missing: []string{"jwt secret"}}
	}

	return nil
}
