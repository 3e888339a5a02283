package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rawjaws/cosync/engine"
	"github.com/rawjaws/cosync/presence"
	"github.com/rawjaws/cosync/server"
	"github.com/rawjaws/cosync/session"
	"github.com/rawjaws/cosync/store"
)

type config struct {
	Addr    string `env:"ADDR" envDefault:":8080"`
	Backend string `env:"STORE" envDefault:"memory"`

	RedisAddr        string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	DatabaseURL      string `env:"DATABASE_URL"`
	FirestoreProject string `env:"FIRESTORE_PROJECT"`

	FlushInterval     time.Duration `env:"FLUSH_INTERVAL" envDefault:"2s"`
	HistoryLimit      int           `env:"HISTORY_LIMIT" envDefault:"1024"`
	DependencyTimeout time.Duration `env:"DEPENDENCY_TIMEOUT" envDefault:"5s"`
	EvictionGrace     time.Duration `env:"EVICTION_GRACE" envDefault:"30s"`
	PresenceThrottle  time.Duration `env:"PRESENCE_THROTTLE" envDefault:"100ms"`
	PresenceExpiry    time.Duration `env:"PRESENCE_EXPIRY" envDefault:"30s"`
	SessionIdle       time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"10m"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("parse env: %v", err)
	}
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flag.StringVar(&cfg.Backend, "store", cfg.Backend, "store backend: memory, redis, postgres, firestore")
	flag.Parse()

	ctx := context.Background()

	docStore, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}

	registry := session.NewRegistry()
	sessions := session.NewManager(registry, cfg.SessionIdle)
	tracker := presence.New(sessions, cfg.PresenceThrottle, cfg.PresenceExpiry)
	defer tracker.Close()

	eng := engine.New(sessions, docStore, engine.Config{
		HistoryLimit:      cfg.HistoryLimit,
		DependencyTimeout: cfg.DependencyTimeout,
		EvictionGrace:     cfg.EvictionGrace,
	})
	defer eng.Close()

	go func() {
		ticker := time.NewTicker(cfg.SessionIdle / 4)
		defer ticker.Stop()
		for range ticker.C {
			if n := sessions.SweepIdle(); n > 0 {
				log.Printf("main: swept %d idle sessions", n)
			}
		}
	}()

	router := server.NewRouter(sessions, eng, tracker)
	handler := server.NewHandler(router)

	log.Printf("Starting server on %s (store=%s)", cfg.Addr, cfg.Backend)
	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		log.Fatal(err)
	}
}

// buildStore constructs the configured backend. Remote backends are wrapped
// in a write-behind cache so the document critical section never waits on
// network I/O.
func buildStore(ctx context.Context, cfg config) (store.DocumentStore, error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		return store.NewCachedStore(store.NewRedisStore(rdb), cfg.FlushInterval), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store.NewCachedStore(pg, cfg.FlushInterval), nil
	case "firestore":
		client, err := firestore.NewClient(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, err
		}
		return store.NewCachedStore(store.NewFirestoreStore(client), cfg.FlushInterval), nil
	default:
		log.Fatalf("unknown store backend %q", cfg.Backend)
		return nil, nil
	}
}
