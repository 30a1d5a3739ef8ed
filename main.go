package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/arcanabattle/api/rest"
	"github.com/kasuganosora/arcanabattle/api/sse"
	apiws "github.com/kasuganosora/arcanabattle/api/ws"
	"github.com/kasuganosora/arcanabattle/audit"
	"github.com/kasuganosora/arcanabattle/cache"
	"github.com/kasuganosora/arcanabattle/config"
	dbadapter "github.com/kasuganosora/arcanabattle/db"
	"github.com/kasuganosora/arcanabattle/game/battle"
	"github.com/kasuganosora/arcanabattle/game/player"
	"github.com/kasuganosora/arcanabattle/game/roster"
	mw "github.com/kasuganosora/arcanabattle/middleware"
	"github.com/kasuganosora/arcanabattle/model"
	"github.com/kasuganosora/arcanabattle/plugin/hook"
	"github.com/kasuganosora/arcanabattle/plugin/script"
	"github.com/kasuganosora/arcanabattle/resource"
	"github.com/kasuganosora/arcanabattle/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	issueFor := flag.String("issue-token", "", "print a signed token for this owner and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Tokens are minted by the operator; there is no account system.
	if *issueFor != "" {
		tok, err := mw.GenerateToken(*issueFor, cfg.Security.JWTSecret, cfg.Security.JWTTTLH)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Audit ----
	auditSvc := audit.New(db, logger)

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Catalog ----
	res := resource.NewLoader(cfg.Data.Path)
	if err := res.Load(); err != nil {
		log.Fatalf("resources: %v", err)
	}
	cat, err := battle.NewCatalog(res.Skills)
	if err != nil {
		log.Fatalf("catalog: %v", err)
	}
	logger.Info("Catalog loaded",
		zap.Int("skills", cat.Len()),
		zap.Int("opponents", len(res.Opponents)))

	// ---- Game Systems ----
	store := roster.NewStore(db, c, cat, cfg.Battle.CheckoutTTL, logger)
	sm := player.NewSessionManager(logger)
	hooks := hook.NewHookCenter(logger)
	sched := scheduler.New(logger)

	hooks.Register(hook.AfterBattleEnd, 100, "log", func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		if s, ok := data.(*hook.BattleSummary); ok {
			logger.Info("battle finished",
				zap.String("battle_id", s.BattleID),
				zap.String("owner", s.Owner),
				zap.String("outcome", s.Outcome),
				zap.Int("turns", s.Turns),
				zap.Int("exp", s.Exp))
		}
		return data, nil
	})
	hooks.Register(hook.OnLevelUp, 100, "log", func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		if lu, ok := data.(*hook.LevelUp); ok {
			logger.Info("level up", zap.String("owner", lu.Owner), zap.Int("level", lu.NewLevel))
		}
		return data, nil
	})

	scripts, err := script.LoadDir(cfg.Plugin.ScriptDir)
	if err != nil {
		log.Fatalf("hook scripts: %v", err)
	}
	if len(scripts) > 0 {
		sandbox := script.NewSandbox(cfg.Plugin.PoolSize, cfg.Plugin.Timeout, logger)
		script.Register(hooks, sandbox, scripts, logger)
	}

	battles, err := apiws.NewBattleSessionManager(apiws.BattleDeps{
		Roster:    store,
		Resources: res,
		Cache:     c,
		PubSub:    pubsub,
		Hooks:     hooks,
		Audit:     auditSvc,
		Scheduler: sched,
		Config:    cfg.Battle,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("battle manager: %v", err)
	}

	// ---- Periodic Scheduler Tasks ----
	leaseEvery := cfg.Battle.CheckoutTTL / 3
	if leaseEvery <= 0 {
		leaseEvery = roster.DefaultLeaseTTL / 3
	}
	sched.AddTicker(scheduler.TaskLeaseRefresh, leaseEvery, store.RefreshAll)
	sched.AddTicker(scheduler.TaskBattleSweep, cfg.Battle.SweepInterval, battles.Sweep)

	// ---- WS Router ----
	wsRouter := apiws.NewRouter(logger)
	battles.RegisterHandlers(wsRouter)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(c, cfg.Security)
	skillH := apirest.NewSkillHandler(cat)
	combH := apirest.NewCombatantHandler(store, auditSvc, logger)
	sseH := sse.NewHandler(pubsub, c, logger)
	adminH := apirest.NewAdminHandler(sm, battles, store, sched, sseH, logger)
	requireAuth := mw.Auth(cfg.Security, c)

	api := r.Group("/api")
	{
		api.GET("/skills", skillH.List)
		api.GET("/skills/:name", skillH.Get)

		authG := api.Group("/auth", requireAuth)
		authG.POST("/logout", authH.Logout)
		authG.POST("/refresh", authH.Refresh)

		combG := api.Group("/combatant", requireAuth)
		combG.GET("", combH.Get)
		combG.POST("", combH.Create)
		combG.PUT("/equip", combH.Equip)
		combG.PUT("/stats", combH.Allocate)

		api.GET("/battles/recent", requireAuth, combH.Recent)

		adminG := api.Group("/admin")
		adminG.Use(apirest.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/players", adminH.ListPlayers)
		adminG.POST("/kick/:owner", adminH.KickPlayer)
		adminG.GET("/battles", adminH.ListBattles)
		adminG.POST("/battles/:id/stop", adminH.StopBattle)
		adminG.POST("/announce", adminH.Announce)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
	}

	// ---- WebSocket ----
	wsH := apiws.NewHandler(cfg.Security, cfg.Battle, sm, battles, wsRouter, logger)
	r.GET("/ws", requireAuth, wsH.ServeWS)

	// ---- SSE ----
	r.GET("/sse", requireAuth, sseH.ServeAnnounce)
	r.GET("/sse/battles/:id", requireAuth, sseH.ServeBattle)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Running battles end as aborted and their leases are released before
	// the sessions and background workers go away.
	battles.Shutdown()
	sm.CloseAllSessions(5 * time.Second)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	sched.Stop()
	auditSvc.Stop(shutdownCtx)
}
