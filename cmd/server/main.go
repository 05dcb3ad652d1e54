package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/molokoedovmp/aibazar2.0-sub000/internal/config"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/gateway"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/handler"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/infrastructure/cache"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/infrastructure/database"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/infrastructure/mq"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/notify"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/repository"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/service"
	"github.com/molokoedovmp/aibazar2.0-sub000/pkg/idgen"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka
	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	// 组装依赖：账本存储 -> 网关客户端 -> 通知分发 -> 对账引擎 -> 业务服务
	store := repository.NewLedgerStore(db, cfg.Business.FreeCredits)
	gatewayClient := gateway.NewClient(&cfg.Gateway)
	dispatcher := notify.NewDispatcher(cfg)

	creditService := service.NewCreditService(cfg, store, redisClient)
	reconcileService := service.NewReconcileService(store, gatewayClient, dispatcher, creditService, cfg.Business.ReconcileParallelism)
	purchaseService := service.NewPurchaseService(cfg, store, gatewayClient, reconcileService)

	// 设置路由
	h := handler.NewHandler(purchaseService, creditService, reconcileService)
	router := handler.SetupRouter(h)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
