// Package app boots the engine: config, database, provider registry,
// scheduler, executor and the optional ops surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/area-platform/areaengine/internal/config"
	"github.com/area-platform/areaengine/internal/db"
	"github.com/area-platform/areaengine/internal/engine"
	areahttp "github.com/area-platform/areaengine/internal/http"
	"github.com/area-platform/areaengine/internal/lock"
	"github.com/area-platform/areaengine/internal/logging"
	"github.com/area-platform/areaengine/internal/oauth"
	"github.com/area-platform/areaengine/internal/service"
	"github.com/area-platform/areaengine/internal/service/dropbox"
	"github.com/area-platform/areaengine/internal/service/github"
	"github.com/area-platform/areaengine/internal/service/outlook"
	"github.com/area-platform/areaengine/internal/service/spotify"
	"github.com/area-platform/areaengine/internal/service/timer"
	"github.com/area-platform/areaengine/internal/service/twitch"
	"github.com/area-platform/areaengine/internal/service/weather"
	"github.com/area-platform/areaengine/internal/settings"
	"github.com/area-platform/areaengine/internal/store"
)

// settingsRefreshInterval is how often the runtime settings snapshot is
// reloaded from the database.
const settingsRefreshInterval = time.Minute

// defaultTokenURLs are the providers' standard OAuth token endpoints, used
// unless the config overrides them.
var defaultTokenURLs = map[string]string{
	"github":  "https://github.com/login/oauth/access_token",
	"outlook": "https://login.microsoftonline.com/common/oauth2/v2.0/token",
	"dropbox": "https://api.dropboxapi.com/oauth2/token",
	"twitch":  "https://id.twitch.tv/oauth2/token",
	"spotify": "https://accounts.spotify.com/api/token",
}

// Migrate opens the database and runs schema migrations.
func Migrate(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(config.ResolveConfigPath(configPath))
	if errLoad != nil {
		return errLoad
	}
	conn, errOpen := db.Open(cfg.Database)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// Run boots the full engine and blocks until ctx is cancelled.
func Run(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(config.ResolveConfigPath(configPath))
	if errLoad != nil {
		return errLoad
	}
	logging.Setup(cfg.Log)

	conn, errOpen := db.Open(cfg.Database)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errSettings := settings.RefreshDBConfigSnapshot(ctx, conn); errSettings != nil {
		return fmt.Errorf("app: load settings: %w", errSettings)
	}

	areas := store.NewAreaStore(conn)
	credentials := store.NewCredentialStore(conn)
	states := store.NewTriggerStateStore(conn)
	executions := store.NewExecutionStore(conn)

	tokens := oauth.NewTokenSource(credentials, tokenEndpoints(cfg))
	client := service.NewClient(tokens, nil)

	registry := service.NewRegistry()
	adapters := []service.Adapter{
		github.New(client),
		outlook.New(client),
		dropbox.New(client),
		twitchAdapter(cfg, client),
		spotify.New(client),
		weatherAdapter(cfg),
		timer.New(),
	}
	for _, adapter := range adapters {
		if errRegister := registry.Register(adapter); errRegister != nil {
			return fmt.Errorf("app: register provider: %w", errRegister)
		}
	}
	registry.Seal()

	executor := engine.NewExecutor(registry, executions, cfg.Engine.ReactionWorkers, cfg.Engine.QueueCapacity)

	var leader engine.LeaderLock
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisLock := lock.NewRedisLeaderLock(redisClient, 0)
		defer redisLock.Release(context.Background())
		leader = redisLock
	}

	scheduler := engine.NewScheduler(areas, states, registry, executor, executions, leader, cfg.Engine)

	executor.Start(ctx)
	store.NewExecutionRetentionCleaner(conn).Start(ctx)
	go refreshSettingsLoop(ctx, conn)
	go scheduler.Run(ctx)

	var opsServer *http.Server
	if cfg.Ops.Listen != "" {
		handler := areahttp.NewOpsHandler(conn, executions, registry, scheduler, executor)
		router := areahttp.NewRouter(handler, cfg.Ops.APIKeyHashes)
		opsServer = serveOps(cfg.Ops.Listen, router)
	}

	<-ctx.Done()
	log.Info("app: shutting down")

	if opsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if errShutdown := opsServer.Shutdown(shutdownCtx); errShutdown != nil {
			log.Warnf("app: ops server shutdown: %v", errShutdown)
		}
		cancel()
	}
	// Scheduler stops on ctx; wait for the reaction workers to exit.
	executor.Wait()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	return nil
}

func tokenEndpoints(cfg *config.Config) map[string]oauth.Endpoint {
	endpoints := map[string]oauth.Endpoint{}
	for name, tokenURL := range defaultTokenURLs {
		endpoint := oauth.Endpoint{TokenURL: tokenURL}
		if pc, ok := cfg.Provider(name); ok {
			endpoint.ClientID = pc.ClientID
			endpoint.ClientSecret = pc.ClientSecret
			if pc.TokenURL != "" {
				endpoint.TokenURL = pc.TokenURL
			}
		}
		endpoints[name] = endpoint
	}
	return endpoints
}

func twitchAdapter(cfg *config.Config, client *service.Client) service.Adapter {
	pc, _ := cfg.Provider("twitch")
	return twitch.New(client, pc.ClientID)
}

func weatherAdapter(cfg *config.Config) service.Adapter {
	pc, _ := cfg.Provider("weather")
	return weather.New(nil, pc.APIKey)
}

func serveOps(listen string, router *gin.Engine) *http.Server {
	server := &http.Server{
		Addr:              listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("app: ops server listening on %s", listen)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.Errorf("app: ops server: %v", errServe)
		}
	}()
	return server
}

func refreshSettingsLoop(ctx context.Context, conn *gorm.DB) {
	ticker := time.NewTicker(settingsRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if errRefresh := settings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
				log.Warnf("app: refresh settings: %v", errRefresh)
			}
		}
	}
}
