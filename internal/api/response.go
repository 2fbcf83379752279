package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eifionsleith/Kittybyte-IoT/internal/api/middleware"
	"github.com/eifionsleith/Kittybyte-IoT/internal/engine"
	"github.com/eifionsleith/Kittybyte-IoT/internal/protocol/command"
	"github.com/eifionsleith/Kittybyte-IoT/internal/tunes"
)

// StandardResponse 标准响应格式
type StandardResponse struct {
	Code      int    `json:"code"`           // 0=成功, >0=HTTP 状态码
	Message   string `json:"message"`        // 消息
	Data      any    `json:"data,omitempty"` // 业务数据
	RequestID string `json:"request_id"`     // 请求追踪ID
	Timestamp int64  `json:"timestamp"`      // 时间戳
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, StandardResponse{
		Code:      0,
		Message:   "success",
		Data:      data,
		RequestID: c.GetString(middleware.RequestIDKey),
		Timestamp: time.Now().Unix(),
	})
}

func respondWithError(c *gin.Context, status int, message string, data any) {
	c.JSON(status, StandardResponse{
		Code:      status,
		Message:   message,
		Data:      data,
		RequestID: c.GetString(middleware.RequestIDKey),
		Timestamp: time.Now().Unix(),
	})
}

// statusFor 执行器错误到 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, command.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, tunes.ErrUnknownTune):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, command.ErrResourceBusy):
		return http.StatusConflict
	case command.IsDeviceError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
