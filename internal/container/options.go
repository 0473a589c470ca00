// Package container wires the service from its command line options.
package container

import (
	"fmt"
	"time"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Decision event transports.
const (
	EventsNone   = "none"
	EventsMemory = "memory"
	EventsRedis  = "redis"
)

// Identity verification modes.
const (
	AuthRemote = "remote"
	AuthJWT    = "jwt"
)

// Options are read from flags or SERVICE_* environment variables.
type Options struct {
	Port                int    `default:"8888" help:"Port to listen on" short:"p"`
	LogFormat           string `default:"console" help:"Log format: console or json"`
	Store               string `default:"memory" help:"Counter store: memory, redis or postgres" short:"s"`
	RedisAddr           string `default:"localhost:6379" help:"Redis server address" short:"r"`
	RedisRetention      string `default:"24h" help:"How long idle redis counters are kept, as a Go duration"`
	DatabaseURL         string `default:"" help:"PostgreSQL connection string" short:"d"`
	CounterCacheTTL     string `default:"0s" help:"Cache postgres counters in redis for this long; 0 disables"`
	Events              string `default:"none" help:"Decision events transport: none, memory or redis"`
	AuthMode            string `default:"remote" help:"Identity verification: remote or jwt"`
	AuthURL             string `default:"" help:"Identity provider base URL"`
	PublicKey           string `default:"" help:"Identity provider public key"`
	ServiceKey          string `default:"" help:"Identity provider privileged key"`
	JWTSecret           string `default:"" help:"HMAC secret for locally verified tokens"`
	DevUserID           string `default:"" help:"User id assumed when no Authorization header is sent (development only)"`
	AllowWindowOverride bool   `default:"true" help:"Honour windowStart in check requests"`
}

func (o *Options) counterCacheTTL() (time.Duration, error) {
	if o.CounterCacheTTL == "" {
		return 0, nil
	}

	ttl, err := time.ParseDuration(o.CounterCacheTTL)
	if err != nil {
		return 0, fmt.Errorf("counter cache ttl: %w", err)
	}

	return ttl, nil
}

func (o *Options) usesRedis() bool {
	if o.Store == StoreRedis || o.Events == EventsRedis {
		return true
	}

	ttl, err := o.counterCacheTTL()

	return o.Store == StorePostgres && err == nil && ttl > 0
}
