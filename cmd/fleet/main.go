package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/botcast/gocast/internal/browser"
	"github.com/botcast/gocast/internal/captcha"
	"github.com/botcast/gocast/internal/controlplane/server"
	"github.com/botcast/gocast/internal/director"
	"github.com/botcast/gocast/internal/fleet"
	"github.com/botcast/gocast/internal/store"
	"github.com/botcast/gocast/pkg/config"
	"github.com/botcast/gocast/pkg/logger"
	"github.com/botcast/gocast/pkg/secretstore"
	"github.com/botcast/gocast/pkg/shutdown"
)

func main() {
	configPath := flag.String("config", "config.json", "配置文件路径（支持 .yaml, .yml, .json）")
	noConsole := flag.Bool("no-console", false, "不启动导演控制台（纯服务模式）")
	flag.Parse()

	// .env 可选，不存在不报错
	_ = godotenv.Load()

	if err := logger.InitDefault(); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Errorf("配置验证失败: %v", err)
		os.Exit(1)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
		logrus.Warnf("无效的日志级别 %s，使用默认级别: info", cfg.LogLevel)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
	}); err != nil {
		logrus.Errorf("重新初始化日志失败: %v", err)
		os.Exit(1)
	}

	logrus.Info("🚀 启动直播机群...")

	backend, err := store.Open(cfg.DatabaseEngine, cfg.DatabasePath)
	if err != nil {
		logrus.Errorf("打开数据库失败: %v", err)
		os.Exit(1)
	}

	// 凭据库：加密 key 来自环境变量，未设置则明文存储（开发模式）
	encKey, err := secretstore.ParseKey(os.Getenv("GOCAST_SECRET_KEY"))
	if err != nil {
		logrus.Errorf("解析加密密钥失败: %v", err)
		os.Exit(1)
	}
	if encKey == nil {
		logrus.Warn("GOCAST_SECRET_KEY 未设置，凭据库将不加密")
	}
	secrets, err := secretstore.Open(secretstore.OpenOptions{
		Path:          cfg.SecretStorePath,
		EncryptionKey: encKey,
	})
	if err != nil {
		logrus.Errorf("打开凭据库失败: %v", err)
		os.Exit(1)
	}

	orch := fleet.New(cfg, backend)

	// 打码服务 key：优先凭据库，其次环境变量（首次注入后落库）
	apiKey, found, err := secrets.GetString(secretstore.SolverAPIKeyKey)
	if err == nil && (!found || apiKey == "") {
		if envKey := os.Getenv("TWO_CAPTCHA_API_KEY"); envKey != "" {
			apiKey = envKey
			if serr := secrets.SetString(secretstore.SolverAPIKeyKey, envKey); serr != nil {
				logrus.Warnf("打码服务 key 落库失败: %v", serr)
			}
		}
	}
	if apiKey != "" {
		orch.Provisioner = &browser.Provisioner{
			ChromePath: cfg.ChromePath,
			Solver:     captcha.NewClient(cfg.CaptchaBaseURL, apiKey),
			Secrets:    secrets,
			Backend:    backend,
		}
		logrus.Info("浏览器开号已启用")
	} else {
		logrus.Info("未配置打码服务 API key，跳过浏览器开号")
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	if err := orch.Start(rootCtx); err != nil {
		logrus.Errorf("机群启动失败: %v", err)
		_ = backend.Close()
		_ = secrets.Close()
		os.Exit(1)
	}

	// 控制面 API（可选）
	var api *server.Server
	if cfg.ControlPlaneAddr != "" {
		api = server.New(orch)
		go func() {
			if err := api.Serve(cfg.ControlPlaneAddr); err != nil {
				logrus.Errorf("控制面异常退出: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// 导演控制台：--exit 等价于收到停止信号
	if !*noConsole {
		console := director.NewConsole(orch.Director(), backend, os.Stdin, os.Stdout)
		console.OnExit = func() {
			select {
			case sigChan <- syscall.SIGTERM:
			default:
			}
		}
		go func() {
			if err := console.Run(rootCtx); err != nil && err != context.Canceled {
				logrus.Errorf("导演控制台异常退出: %v", err)
			}
		}()
	}

	logrus.Info("✅ 机群已启动，按 Ctrl+C 或 --exit 停止")
	<-sigChan
	logrus.Info("收到停止信号，正在关闭...")
	rootCancel()

	// 优雅关闭：机群（管线→编码器→持久化）、控制面、凭据库互不依赖，可并发收尾
	mgr := shutdown.NewManager()
	mgr.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
		defer wg.Done()
		orch.Stop()
	})
	if api != nil {
		mgr.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
			defer wg.Done()
			if err := api.Shutdown(ctx); err != nil {
				logrus.Errorf("控制面关闭失败: %v", err)
			}
		})
	}
	mgr.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
		defer wg.Done()
		if err := secrets.Close(); err != nil {
			logrus.Errorf("凭据库关闭失败: %v", err)
		}
	})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	mgr.Shutdown(shutdownCtx)

	logrus.Info("✅ 机群已停止")
}
