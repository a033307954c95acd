package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/meterman/internal/dispatch"
	"github.com/hitoshi/meterman/internal/middleware"
	"github.com/hitoshi/meterman/internal/repository"
)

// AdminHandler は運用者向けの管理APIを処理する。
type AdminHandler struct {
	stats      repository.StatsRepository
	dispatcher dispatch.DispatcherService
	logger     *slog.Logger
}

// NewAdminHandler はAdminHandlerの新しいインスタンスを生成する。
func NewAdminHandler(stats repository.StatsRepository, dispatcher dispatch.DispatcherService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		stats:      stats,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Stats はGET /admin/api/statsを処理する。
// ユーザー/メーター数、24時間アクティブ数、直近のレコードを返す。
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	summary, err := h.stats.Summary(r.Context(), 5)
	if err != nil {
		h.logger.Error("統計の集計に失敗しました",
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// broadcastRequest はPOST /admin/api/broadcastのリクエストボディ。
type broadcastRequest struct {
	Message string `json:"message"`
}

// Broadcast はPOST /admin/api/broadcastを処理する。
// 既知の全(ユーザー, チャネル)対へメッセージを送信し、試行数と成功数を返す。
func (h *AdminHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "invalid_request", "Request body must be JSON with a message field.")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "invalid_request", "Message must not be empty.")
		return
	}

	result, err := h.dispatcher.Broadcast(r.Context(), req.Message)
	if err != nil {
		h.logger.Error("ブロードキャストに失敗しました",
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
