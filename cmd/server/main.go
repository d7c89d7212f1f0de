package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"gameledger/internal/config"
	"gameledger/internal/handler"
	"gameledger/internal/infrastructure/cache"
	"gameledger/internal/infrastructure/database"
	"gameledger/internal/infrastructure/mq"
	"gameledger/internal/job"
	"gameledger/internal/repository"
	"gameledger/internal/service"
	"gameledger/pkg/idgen"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	configPath := "config/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	// 加载配置
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.WithError(err).Fatal("配置加载失败")
	}
	holder := config.NewHolder(cfg)

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化存储后端，失败直接退出
	db, err := database.Open(&cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("存储后端初始化失败")
	}

	// 可选的出站通道
	var producer *mq.Producer
	if cfg.Kafka.Enabled {
		producer, err = mq.NewProducer(&cfg.Kafka)
		if err != nil {
			log.WithError(err).Fatal("Kafka 初始化失败")
		}
	}
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(&cfg.Redis)
		if err != nil {
			log.WithError(err).Fatal("Redis 初始化失败")
		}
	}

	// 仓储与服务装配
	accountRepo := repository.NewAccountRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	store := service.NewAccountStore(accountRepo, cfg.Format.Decimals)
	flusher := service.NewFlusher(store, holder, log)
	audit := service.NewAuditService(auditRepo, holder, log)
	antiAbuse := service.NewAntiAbuseService(holder)
	notifier := service.NewNotifier(holder, redisClient, producer, log)
	transfer := service.NewTransferService(holder, store, antiAbuse, audit, flusher, notifier, log)
	economy := service.NewEconomyService(holder, store, audit, flusher)
	topCache := service.NewTopCacheService(accountRepo, holder, log)

	// 预热：把账户表整体拉进内存
	warmupCtx, warmupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := store.Warmup(warmupCtx); err != nil {
		warmupCancel()
		log.WithError(err).Fatal("账户预热失败")
	}
	warmupCancel()
	log.WithField("accounts", store.Size()).Info("账户预热完成")

	// 审计写入协程 + 启动清理
	audit.Start()
	audit.PurgeOnStart()

	// 后台任务
	ctx, cancel := context.WithCancel(context.Background())

	autosaveJob := job.NewAutosaveJob(flusher, holder, log)
	go autosaveJob.Start(ctx)

	topCacheJob := job.NewTopCacheRefreshJob(topCache, holder, log)
	go topCacheJob.Start(ctx)

	// 设置路由
	router := handler.SetupRouter(handler.Deps{
		Cfg:        holder,
		ConfigPath: configPath,
		Store:      store,
		Transfer:   transfer,
		Economy:    economy,
		Audit:      audit,
		AuditRepo:  auditRepo,
		AntiAbuse:  antiAbuse,
		TopCache:   topCache,
		Flusher:    flusher,
		DB:         db,
		Log:        log,
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("服务启动")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("服务启动失败")
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务...")

	// 关闭顺序：先停止接收请求，再停后台任务，
	// 然后排空审计队列，最后一次同步刷盘，再关后端连接
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("服务关闭异常")
	}

	cancel()
	autosaveJob.Stop()
	topCacheJob.Stop()

	audit.Close()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := flusher.FlushSync(flushCtx); err != nil {
		log.WithError(err).Warn("停机刷盘失败")
	}
	flushCancel()

	if producer != nil {
		producer.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}
	database.Close(db)

	log.Info("服务已关闭")
}
