// Command janus runs the bi-directional chat bridge: it connects the
// Discord and Slack platform adapters, starts the ingest/delivery queue
// consumers, and supervises per-bridge delivery worker sets for every
// BridgePair on file.
package main

import (
	"context"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chris-alexander-pop/system-design-library/internal/bridge"
	bridgeconfig "github.com/chris-alexander-pop/system-design-library/internal/bridge/config"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/delivery"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/loopfilter"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/platform"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/platform/discord"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/platform/slack"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/queue"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/ratelimit"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/router"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/store"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/supervisor"
	cachepkg "github.com/chris-alexander-pop/system-design-library/pkg/cache"
	cacheredis "github.com/chris-alexander-pop/system-design-library/pkg/cache/adapters/redis"
	"github.com/chris-alexander-pop/system-design-library/pkg/config"
	"github.com/chris-alexander-pop/system-design-library/pkg/database"
	"github.com/chris-alexander-pop/system-design-library/pkg/database/sql"
	"github.com/chris-alexander-pop/system-design-library/pkg/database/sql/adapters/mssql"
	"github.com/chris-alexander-pop/system-design-library/pkg/database/sql/adapters/mysql"
	"github.com/chris-alexander-pop/system-design-library/pkg/database/sql/adapters/postgres"
	"github.com/chris-alexander-pop/system-design-library/pkg/database/sql/adapters/sqlite"
	"github.com/chris-alexander-pop/system-design-library/pkg/events/adapters/memory"
	"github.com/chris-alexander-pop/system-design-library/pkg/logger"
)

func main() {
	var cfg bridgeconfig.Config
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}

	logger.Init(logger.Config{Level: cfg.LogLevel, Format: "JSON"})
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		logger.L().Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	kvCache, err := openCache(cfg.KVURL)
	if err != nil {
		logger.L().Error("failed to open kv cache", "error", err)
		os.Exit(1)
	}
	defer kvCache.Close()

	if err := db.Get(ctx).AutoMigrate(&bridge.BridgePair{}, &bridge.MessageMap{}); err != nil {
		logger.L().Error("failed to migrate database schema", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr(cfg.KVURL)})
	defer redisClient.Close()

	bus := memory.New()
	defer bus.Close()

	adapters := map[bridge.Platform]platform.Adapter{
		bridge.PlatformA: platform.NewInstrumentedAdapter("discord", discord.New()),
		bridge.PlatformB: platform.NewInstrumentedAdapter("slack", slack.New(cfg.SlackAppToken)),
	}
	if err := adapters[bridge.PlatformA].Connect(ctx, cfg.DiscordToken); err != nil {
		logger.L().Error("failed to connect discord adapter", "error", err)
		os.Exit(1)
	}
	if err := adapters[bridge.PlatformB].Connect(ctx, cfg.SlackToken); err != nil {
		logger.L().Error("failed to connect slack adapter", "error", err)
		os.Exit(1)
	}

	bridgeStore := store.New(db, bus, adapters)
	queues := queue.NewManager(redisClient)
	filter := loopfilter.New(kvCache, time.Duration(cfg.LoopHashTTLSeconds)*time.Second)
	limiter := ratelimit.New(kvCache, cfg.RateLimitPerChannel, time.Duration(cfg.RateLimitWindowSeconds)*time.Second)

	routerWorker := router.New(bridgeStore, filter, queues)
	deliveryWorker := delivery.New(db, bridgeStore, limiter, filter, kvCache, adapters, cfg.WebBaseURL)

	reaper := queue.NewJobReaper(queues)
	if err := reaper.Start(ctx); err != nil {
		logger.L().Error("failed to start job reaper", "error", err)
		os.Exit(1)
	}
	defer reaper.Stop()

	activePairs, err := bridgeStore.ListActive(ctx)
	if err != nil {
		logger.L().Error("failed to load active bridge pairs", "error", err)
		os.Exit(1)
	}

	sv := supervisor.New(bus, bridgeStore, queues, deliveryWorker)
	if err := sv.Start(ctx, activePairs); err != nil {
		logger.L().Error("failed to start worker supervisor", "error", err)
		os.Exit(1)
	}

	go routerWorker.Run(ctx)

	logger.L().InfoContext(ctx, "janus started", "active_bridges", len(activePairs))
	<-ctx.Done()
	logger.L().Info("janus shutting down")
	_ = adapters[bridge.PlatformA].Disconnect()
	_ = adapters[bridge.PlatformB].Disconnect()
}

// openDatabase builds the sql.SQL backend named by databaseURL. An empty
// value, or the sqlite:// scheme, opens a local file; mysql:// and
// sqlserver:// (or mssql://) dispatch to their own adapters; anything else
// is parsed as a postgres DSN URL. DATABASE_URL is a single compound value,
// so its host/user/path components are split here rather than loading the
// driver's own multi-field Config independently.
func openDatabase(databaseURL string) (database.DB, error) {
	if databaseURL == "" || hasScheme(databaseURL, "sqlite") {
		conn, err := sqlite.New(sql.Config{Driver: database.DriverSQLite, Name: sqlitePath(databaseURL)})
		if err != nil {
			return nil, err
		}
		return database.NewManager(conn), nil
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, err
	}
	password, _ := u.User.Password()
	cfg := sql.Config{
		Host:     u.Hostname(),
		Port:     u.Port(),
		User:     u.User.Username(),
		Password: password,
		Name:     trimLeadingSlash(u.Path),
		SSLMode:  "disable",
	}

	var conn sql.SQL
	switch {
	case hasScheme(databaseURL, "mysql"):
		cfg.Driver = database.DriverMySQL
		conn, err = mysql.New(cfg)
	case hasScheme(databaseURL, "sqlserver") || hasScheme(databaseURL, "mssql"):
		cfg.Driver = database.DriverSQLServer
		conn, err = mssql.New(cfg)
	default:
		cfg.Driver = database.DriverPostgres
		conn, err = postgres.New(cfg)
	}
	if err != nil {
		return nil, err
	}
	return database.NewManager(conn), nil
}

func sqlitePath(databaseURL string) string {
	if databaseURL == "" {
		return "bridge.db"
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "bridge.db"
	}
	if u.Opaque != "" {
		return u.Opaque
	}
	return trimLeadingSlash(u.Path)
}

// openCache builds the Redis-backed Cache used for loop-filter hashes and
// the edit-workaround tracker. KV_URL is a single host:port (or redis://
// URL); the durable FIFO queues in internal/bridge/queue talk to the same
// Redis instance directly via a raw *redis.Client, since cache.Cache's
// Get/Set/Incr surface doesn't cover list operations.
func openCache(kvURL string) (cachepkg.Cache, error) {
	host, port := splitHostPort(redisAddr(kvURL))
	return cacheredis.New(cachepkg.Config{Driver: "redis", Host: host, Port: port})
}

func redisAddr(kvURL string) string {
	if kvURL == "" {
		return "localhost:6379"
	}
	if u, err := url.Parse(kvURL); err == nil && u.Host != "" {
		return u.Host
	}
	return kvURL
}

func splitHostPort(addr string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, "6379"
	}
	return host, port
}

func hasScheme(rawURL, scheme string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && u.Scheme == scheme
}

func trimLeadingSlash(path string) string {
	if len(path) > 0 && path[0] == '/' {
		return path[1:]
	}
	return path
}
