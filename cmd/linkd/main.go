package main

import (
	"os"

	"go.uber.org/zap"

	"github.com/eifionsleith/Kittybyte-IoT/internal/app/bootstrap"
	cfgpkg "github.com/eifionsleith/Kittybyte-IoT/internal/config"
	"github.com/eifionsleith/Kittybyte-IoT/internal/logging"
)

func main() {
	// 1) 加载配置（KB_CONFIG 指定文件，KB_* 覆盖）
	cfg, err := cfgpkg.Load("")
	if err != nil {
		panic(err)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	// 3) 装配并运行，直到收到退出信号
	if err := bootstrap.Run(cfg, logger); err != nil {
		logger.Error("link daemon exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
