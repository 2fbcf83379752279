package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eifionsleith/Kittybyte-IoT/internal/api/middleware"
)

// RegisterDeviceRoutes 注册控制接口
func RegisterDeviceRoutes(r gin.IRouter, handler *DeviceHandler, apiKeys []string, logger *zap.Logger) {
	if r == nil || handler == nil {
		return
	}

	v1 := r.Group("/api/v1")
	if len(apiKeys) > 0 {
		logger.Info("api authentication enabled", zap.Int("api_keys_count", len(apiKeys)))
	} else {
		logger.Warn("api authentication disabled - only for development!")
	}
	v1.Use(middleware.APIKeyAuth(apiKeys, logger))

	buzzer := v1.Group("/buzzer")
	buzzer.POST("/tone", handler.PlayTone)
	buzzer.POST("/melody", handler.PlayMelody)
	buzzer.GET("/tunes", handler.ListTunes)

	v1.POST("/dispenser/dispense", handler.Dispense)
	v1.GET("/link", handler.LinkStatus)
	v1.GET("/journal", handler.ListJournal)
}
