package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"wisefido-triage/internal/advisory"
	"wisefido-triage/internal/config"
	"wisefido-triage/internal/evaluator"
	httpapi "wisefido-triage/internal/http"
	"wisefido-triage/internal/ingest"
	"wisefido-triage/internal/logger"
	"wisefido-triage/internal/notify"
	"wisefido-triage/internal/repository"
	"wisefido-triage/internal/service"
	"wisefido-triage/internal/session"
	"wisefido-triage/internal/telemetry"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	serviceName = "wisefido-triage"

	// 会话空闲超过 sessionIdle 后回收
	sessionIdle          = 12 * time.Hour
	sessionSweepInterval = 10 * time.Minute
)

// app 组装后的运行时依赖
type app struct {
	triage   *service.TriageService
	sessions *session.Store
	loader   *ingest.Loader
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func main() {
	evaluatePath := flag.String("evaluate", "", "evaluate a vitals file (csv/xlsx) once, print the outcome as JSON and exit")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. 组装依赖
	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create triage service", zap.Error(err))
	}
	defer a.Close()

	if *evaluatePath != "" {
		if err := evaluateOnce(ctx, a, *evaluatePath); err != nil {
			log.Error("Evaluation failed", zap.String("path", *evaluatePath), zap.Error(err))
			a.Close()
			os.Exit(1)
		}
		return
	}

	// 4. HTTP 服务
	router := httpapi.NewRouter(log)
	router.RegisterHealthRoutes()
	router.RegisterTriageRoutes(httpapi.NewTriageHandler(a.triage, a.sessions, a.loader, cfg.Triage.MaxUploadMB, log))
	srv := httpapi.NewServer(cfg.HTTP.Addr, router, cfg.Advisory.Timeout+30*time.Second, log)

	go sweepSessions(ctx, a.sessions)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// 5. 等待信号（优雅关闭）
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server error", zap.Error(err))
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)

	log.Info("Triage service stopped")
}

// buildApp 按配置接入缓存、事件 sink 与事件存储；可选组件不可用时降级并记录警告
func buildApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{loader: ingest.NewLoader(log)}

	var redisClient *redis.Client
	if cfg.Triage.CacheBackend == "redis" || cfg.Telemetry.Stream != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			if cfg.Triage.CacheBackend == "redis" {
				return nil, fmt.Errorf("failed to connect redis: %w", err)
			}
			log.Warn("Redis unavailable, telemetry stream disabled", zap.Error(err))
		} else {
			redisClient = client
			a.closers = append(a.closers, func() { _ = client.Close() })
		}
	}

	cacheFactory := session.MemoryCacheFactory
	if cfg.Triage.CacheBackend == "redis" {
		cacheFactory = func(sessionID string) advisory.Cache {
			return advisory.NewRedisCache(redisClient, cfg.Triage.CachePrefix, sessionID)
		}
	}

	var sinks []telemetry.Sink
	if path := cfg.Telemetry.EventLogPath; path != "" {
		journal, err := telemetry.OpenJournal(filepath.Clean(path))
		if err != nil {
			log.Warn("Event journal disabled", zap.String("path", path), zap.Error(err))
		} else {
			sinks = append(sinks, journal)
			a.closers = append(a.closers, func() { _ = journal.Close() })
		}
	}
	if hec := telemetry.NewHECSink(cfg.Telemetry); hec != nil {
		sinks = append(sinks, hec)
	}
	if redisClient != nil && cfg.Telemetry.Stream != "" {
		sinks = append(sinks, telemetry.NewStreamSink(redisClient, cfg.Telemetry.Stream))
	}

	var summaries service.RunSummaryReader
	if cfg.Telemetry.DBEnabled {
		if repo, db, err := openEventStore(ctx, cfg, log); err != nil {
			log.Warn("Event store disabled", zap.Error(err))
		} else {
			sinks = append(sinks, repo)
			summaries = repo
			a.closers = append(a.closers, func() { _ = db.Close() })
		}
	}

	if cfg.MQTT.Broker != "" {
		mqttClient, err := notify.NewClient(cfg.MQTT, log)
		if err != nil {
			log.Warn("MQTT alert notifier disabled", zap.Error(err))
		} else {
			sinks = append(sinks, notify.NewAlertNotifier(mqttClient, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS))
			a.closers = append(a.closers, mqttClient.Disconnect)
		}
	}

	observer := telemetry.NewObserver(cfg.Telemetry, log, sinks...)
	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	log.Info("Telemetry sinks configured", zap.Strings("sinks", names))

	advisor := advisory.NewClient(cfg.Advisory, log)
	a.triage = service.NewTriageService(evaluator.NewDetector(nil), advisor, observer, summaries, cfg.Advisory.TailSize, log)
	a.sessions = session.NewStore(cacheFactory, cfg.Triage.AutoAdvise, log)
	return a, nil
}

func openEventStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*repository.TriageEventsRepository, *sql.DB, error) {
	db, err := repository.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	repo := repository.NewTriageEventsRepository(db, log)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return repo, db, nil
}

// evaluateOnce 单次评估文件并输出 JSON
func evaluateOnce(ctx context.Context, a *app, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open vitals file: %w", err)
	}
	defer f.Close()

	series, err := a.loader.Load(path, f)
	if err != nil {
		return err
	}

	sess := a.sessions.GetOrCreate("")
	out, err := a.triage.Evaluate(ctx, sess, service.Request{
		SourceID: filepath.Base(path),
		Series:   series,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func sweepSessions(ctx context.Context, sessions *session.Store) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.Evict(ctx, sessionIdle)
		}
	}
}
