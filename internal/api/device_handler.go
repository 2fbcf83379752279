package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eifionsleith/Kittybyte-IoT/internal/engine"
	"github.com/eifionsleith/Kittybyte-IoT/internal/journal"
	"github.com/eifionsleith/Kittybyte-IoT/internal/service"
	"github.com/eifionsleith/Kittybyte-IoT/internal/tunes"
)

// Actuator 处理器依赖的执行器能力（*service.Actuator）
type Actuator interface {
	PlayTone(ctx context.Context, frequency, durationMs int) (*service.Outcome, error)
	PlayMelody(ctx context.Context, tempo int, notes []int) (*service.Outcome, error)
	PlayTune(ctx context.Context, name string) (*service.Outcome, error)
	Dispense(ctx context.Context, quantity int) (*service.Outcome, error)
	Tunes() *tunes.Library
}

// LinkStats 链路快照来源（*engine.Engine）
type LinkStats interface {
	Stats() engine.Stats
}

// JournalReader 命令日志查询
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]journal.CommandRecord, error)
}

// DeviceHandler 蜂鸣器与出粮器控制接口
type DeviceHandler struct {
	actuator Actuator
	link     LinkStats
	journal  JournalReader
	logger   *zap.Logger
}

// NewDeviceHandler 创建处理器；journal 为 nil 时查询返回空列表
func NewDeviceHandler(actuator Actuator, link LinkStats, jr JournalReader, logger *zap.Logger) *DeviceHandler {
	if jr == nil {
		jr = journal.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceHandler{actuator: actuator, link: link, journal: jr, logger: logger}
}

// ToneRequest 单音请求
type ToneRequest struct {
	Frequency  *int `json:"frequency" binding:"required"`   // 频率（Hz）
	DurationMs *int `json:"duration_ms" binding:"required"` // 时长（毫秒）
}

// MelodyRequest 旋律请求：给出 tune 时按名称播放，否则使用 tempo 与 notes
type MelodyRequest struct {
	Tune  string `json:"tune"`
	Tempo int    `json:"tempo"` // BPM
	Notes []int  `json:"notes"` // 频率，0 为休止
}

// DispenseRequest 出粮请求
type DispenseRequest struct {
	Quantity int `json:"quantity" binding:"required"` // 份数
}

// PlayTone POST /api/v1/buzzer/tone
func (h *DeviceHandler) PlayTone(c *gin.Context) {
	var req ToneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "无效的请求: "+err.Error(), nil)
		return
	}
	out, err := h.actuator.PlayTone(c.Request.Context(), *req.Frequency, *req.DurationMs)
	h.respondOutcome(c, out, err)
}

// PlayMelody POST /api/v1/buzzer/melody
func (h *DeviceHandler) PlayMelody(c *gin.Context) {
	var req MelodyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "无效的请求: "+err.Error(), nil)
		return
	}

	var (
		out *service.Outcome
		err error
	)
	if req.Tune != "" {
		out, err = h.actuator.PlayTune(c.Request.Context(), req.Tune)
	} else {
		out, err = h.actuator.PlayMelody(c.Request.Context(), req.Tempo, req.Notes)
	}
	h.respondOutcome(c, out, err)
}

// ListTunes GET /api/v1/buzzer/tunes
func (h *DeviceHandler) ListTunes(c *gin.Context) {
	lib := h.actuator.Tunes()
	respondOK(c, gin.H{"tunes": lib.Names()})
}

// Dispense POST /api/v1/dispenser/dispense
func (h *DeviceHandler) Dispense(c *gin.Context) {
	var req DispenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "无效的请求: "+err.Error(), nil)
		return
	}
	out, err := h.actuator.Dispense(c.Request.Context(), req.Quantity)
	h.respondOutcome(c, out, err)
}

// LinkStatus GET /api/v1/link
func (h *DeviceHandler) LinkStatus(c *gin.Context) {
	respondOK(c, h.link.Stats())
}

// ListJournal GET /api/v1/journal?limit=50
func (h *DeviceHandler) ListJournal(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, "limit 必须为整数", nil)
			return
		}
		limit = n
	}

	list, err := h.journal.Recent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("query command journal failed", zap.Error(err))
		respondWithError(c, http.StatusInternalServerError, "查询命令日志失败", nil)
		return
	}
	if list == nil {
		list = []journal.CommandRecord{}
	}
	respondOK(c, gin.H{"records": list})
}

func (h *DeviceHandler) respondOutcome(c *gin.Context, out *service.Outcome, err error) {
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Warn("actuator request failed",
				zap.String("path", c.FullPath()),
				zap.Int("status", status),
				zap.Error(err))
		}
		respondWithError(c, status, err.Error(), out)
		return
	}
	respondOK(c, out)
}
