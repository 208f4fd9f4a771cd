// Command server runs a demo service protected by the abuse shield: the
// gate in front of a few sample endpoints, plus the admin and metrics
// surface. Counter state lives in Redis when REDIS_ADDR is set, in memory
// otherwise; the durable audit stores live in SQLite.
package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yourusername/abuseshield/api"
	"github.com/yourusername/abuseshield/metrics"
	"github.com/yourusername/abuseshield/pkg/abuseshield"
	"github.com/yourusername/abuseshield/store"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg := abuseshield.NewConfig()
	if path := os.Getenv("ABUSESHIELD_CONFIG"); path != "" {
		loaded, err := abuseshield.LoadConfigFromFile(path)
		if err != nil {
			log.Error("invalid configuration, refusing to start", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	var counters store.CounterStore
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		counters = store.NewRedisCounterStore(store.RedisConfig{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		log.Info("using redis counter store", "addr", addr)
	} else {
		counters = store.NewMemoryCounterStore()
		log.Info("using in-memory counter store")
	}

	dbPath := os.Getenv("ABUSESHIELD_DB")
	if dbPath == "" {
		dbPath = "abuseshield.db"
	}
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Error("failed to open durable store", "error", err)
		os.Exit(1)
	}
	if err := store.AutoMigrate(db); err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}

	blocks := store.NewGormBlockStore(db)
	trusted := store.NewGormTrustStore(db)
	violations := store.NewGormViolationStore(db)

	trustList := abuseshield.NewTrustList(counters, trusted, cfg.TrustedSeed, cfg.TrustTTL(), log)

	engine, err := abuseshield.NewEngine(cfg, counters, blocks, violations, trustList, log)
	if err != nil {
		log.Error("invalid configuration, refusing to start", "error", err)
		os.Exit(1)
	}

	tracker := metrics.NewTracker()
	gate, err := abuseshield.NewGate(engine,
		abuseshield.WithMetrics(tracker),
		abuseshield.WithLogger(log),
		abuseshield.WithIdentityFunc(headerIdentity),
	)
	if err != nil {
		log.Error("failed to build gate", "error", err)
		os.Exit(1)
	}

	janitor := abuseshield.NewJanitor(blocks, trusted, violations, cfg.Retention(), log)
	stopJanitor := janitor.StartBackgroundCleanup(time.Hour)
	defer stopJanitor()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/items", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[]}`))
	})
	mux.HandleFunc("/accounts/login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("login page"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	admin := api.NewAdminHandler(engine, blocks, trusted, violations, trustList, janitor)
	admin.RegisterRoutes(mux)
	mux.HandleFunc("/admin/ratelimit/metrics", api.NewMetricsHandler(tracker).Snapshot)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Info("listening", "addr", addr)
	if err := http.ListenAndServe(addr, gate.Middleware(mux)); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// headerIdentity trusts an upstream auth layer to put the verified user ID
// in X-User-ID. A real deployment resolves this from its session store.
func headerIdentity(r *http.Request) (string, bool) {
	id := r.Header.Get("X-User-ID")
	return id, id != ""
}
