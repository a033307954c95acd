package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/meterman/internal/middleware"
	"github.com/hitoshi/meterman/internal/model"
	"github.com/hitoshi/meterman/internal/provider"
	"github.com/hitoshi/meterman/internal/worker/sweep"
)

// OpsHandler は運用トリガー用のAPIを処理する。
// 外部スケジューラ（cron等）からの日次スイープ起動と、
// 診断用の即時残高照会を提供する。
type OpsHandler struct {
	sweeper      sweep.SweeperService
	fetcher      provider.FetcherService
	logger       *slog.Logger
	fetchTimeout time.Duration

	// sweepGate は多重起動を防ぐ。スイープ実行中の再トリガーは受理だけして無視する。
	sweepGate chan struct{}
}

// NewOpsHandler はOpsHandlerの新しいインスタンスを生成する。
func NewOpsHandler(sweeper sweep.SweeperService, fetcher provider.FetcherService, logger *slog.Logger, fetchTimeout time.Duration) *OpsHandler {
	gate := make(chan struct{}, 1)
	gate <- struct{}{}
	return &OpsHandler{
		sweeper:      sweeper,
		fetcher:      fetcher,
		logger:       logger,
		fetchTimeout: fetchTimeout,
		sweepGate:    gate,
	}
}

// TriggerSweep はPOST /api/sweepを処理する。
// スイープをバックグラウンドで起動し、202を返す。
// 実行中の場合は新たに起動せず、その旨を返す（冪等）。
func (h *OpsHandler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.sweepGate:
		go func() {
			defer func() { h.sweepGate <- struct{}{} }()
			// リクエストのコンテキストはレスポンス後にキャンセルされるため使わない
			if err := h.sweeper.RunOnce(context.Background()); err != nil {
				h.logger.Error("手動トリガーのスイープに失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "started"})
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "already_running"})
	}
}

// fetchRequest はPOST /api/fetchのリクエストボディ。
type fetchRequest struct {
	MeterNumber string `json:"meter_number"`
}

// fetchResponse はPOST /api/fetchのレスポンスボディ。
type fetchResponse struct {
	MeterNumber string `json:"meter_number"`
	Balance     string `json:"balance"`
	RecordedAt  string `json:"recorded_at"`
}

// FetchNow はPOST /api/fetchを処理する。
// 指定メーター番号の残高をその場で照会して返す。記録は行わない診断用。
func (h *OpsHandler) FetchNow(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "invalid_request", "Request body must be JSON with a meter_number field.")
		return
	}
	if !model.ValidMeterNumber(req.MeterNumber) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "invalid_meter_number", "Meter number must be 6-16 digits.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.fetchTimeout)
	defer cancel()

	reading, err := h.fetcher.Fetch(ctx, req.MeterNumber)
	if err != nil {
		h.logger.Warn("即時残高照会に失敗しました",
			slog.String("meter_number", req.MeterNumber),
			slog.String("error", err.Error()),
		)
		if model.IsParseError(err) {
			middleware.WriteErrorResponse(w, http.StatusBadGateway, "parse_failed", "Provider page format was not recognized.")
			return
		}
		middleware.WriteErrorResponse(w, http.StatusBadGateway, "fetch_failed", "Could not reach the provider. Please try again later.")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(fetchResponse{
		MeterNumber: req.MeterNumber,
		Balance:     reading.Balance.StringFixed(2),
		RecordedAt:  reading.RecordedAt.Format(time.RFC3339),
	})
}
