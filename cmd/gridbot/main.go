package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grid-trader-go/internal/api"
	"grid-trader-go/internal/config"
	"grid-trader-go/internal/engine"
	"grid-trader-go/internal/logger"
	"grid-trader-go/internal/models"
	"grid-trader-go/internal/oracle"
	"grid-trader-go/internal/reporter"
	"grid-trader-go/internal/scheduler"
	"grid-trader-go/internal/storage"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	flag.Parse()

	// 提前用默认配置初始化日志，保证加载配置阶段也有日志可用
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// 使用文件中的配置重新初始化日志
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	// --- 存储层 ---
	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("初始化数据库失败: %v", err)
	}
	defer store.Close()

	// --- 行情源 ---
	priceCache, err := oracle.NewPriceCache(cfg.Oracle.CachePath)
	if err != nil {
		logger.S().Fatalf("初始化价格缓存失败: %v", err)
	}
	defer priceCache.Close()

	binanceOracle := oracle.NewBinanceOracle(cfg.Oracle, priceCache)
	defer binanceOracle.Close()

	// --- 核心引擎与调度循环 ---
	eng := engine.NewEngine(store, binanceOracle)

	sched := scheduler.New(store, eng, binanceOracle, time.Duration(cfg.TickIntervalSec)*time.Second)
	if cfg.Oracle.EnableStreaming {
		sched.SetWatcher(binanceOracle)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sched.Run(ctx)

	// --- 状态报表 ---
	if cfg.ReportIntervalSec > 0 {
		rep := reporter.New(store, time.Duration(cfg.ReportIntervalSec)*time.Second)
		go rep.Run(ctx)
	}

	// --- REST 控制接口 ---
	server := api.NewServer(store, eng, cfg.APIPort)
	if err := server.Start(); err != nil {
		logger.S().Fatalf("启动API服务失败: %v", err)
	}

	logger.S().Info("网格交易服务已启动。按 Ctrl+C 停止。")

	// 等待退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.S().Info("收到停止信号，正在关闭...")
	cancel()
	if err := server.Shutdown(context.Background()); err != nil {
		logger.S().Errorf("关闭API服务失败: %v", err)
	}
	logger.S().Info("网格交易服务已退出。")
}
