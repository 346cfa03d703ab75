package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/pendant/internal/device"
	"github.com/hitoshi/pendant/internal/middleware"
	"github.com/hitoshi/pendant/internal/session"
)

// EventServiceInterface はイベントハンドラーが必要とするセッション操作。
type EventServiceInterface interface {
	// HandleUtterance は確定発話の分類とディスパッチを行う。
	HandleUtterance(ctx context.Context, userID string, ev device.UtteranceEvent) (*session.DispatchResult, error)
	// HandleButton は物理ボタンイベントを処理する。
	HandleButton(ctx context.Context, userID string, ev device.ButtonEvent) (*session.DispatchResult, error)
	// SetStreaming はストリーミング撮影モードを切り替える。
	SetStreaming(userID string, enabled bool)
	// Streaming は現在のストリーミング撮影モードを返す。
	Streaming(userID string) bool
	// Disconnect はデバイスの切断を処理する。
	Disconnect(userID string)
}

// EventHandler はデバイスイベント取り込みのHTTPハンドラー。
type EventHandler struct {
	service EventServiceInterface
}

// NewEventHandler はEventHandlerを生成する。
func NewEventHandler(service EventServiceInterface) *EventHandler {
	return &EventHandler{service: service}
}

// utteranceRequest は発話イベントのリクエストボディ。
type utteranceRequest struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// buttonRequest はボタンイベントのリクエストボディ。
type buttonRequest struct {
	ButtonID  string `json:"button_id"`
	PressType string `json:"press_type"`
}

// streamingRequest はストリーミングモード切り替えのリクエストボディ。
type streamingRequest struct {
	Enabled bool `json:"enabled"`
}

// streamingResponse はストリーミングモードのレスポンス。
type streamingResponse struct {
	Streaming bool `json:"streaming"`
}

// Utterance は発話イベントを処理する。
// POST /api/events/utterance
func (h *EventHandler) Utterance(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req utteranceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	result, err := h.service.HandleUtterance(r.Context(), userID, device.UtteranceEvent{
		Text:    req.Text,
		IsFinal: req.IsFinal,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Button はボタンイベントを処理する。
// POST /api/events/button
func (h *EventHandler) Button(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req buttonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	result, err := h.service.HandleButton(r.Context(), userID, device.ButtonEvent{
		ButtonID:  req.ButtonID,
		PressType: req.PressType,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// SetStreaming はストリーミング撮影モードを切り替える。
// POST /api/streaming
func (h *EventHandler) SetStreaming(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req streamingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	h.service.SetStreaming(userID, req.Enabled)
	writeJSON(w, http.StatusOK, streamingResponse{Streaming: h.service.Streaming(userID)})
}

// GetStreaming は現在のストリーミング撮影モードを返す。
// GET /api/streaming
func (h *EventHandler) GetStreaming(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	writeJSON(w, http.StatusOK, streamingResponse{Streaming: h.service.Streaming(userID)})
}

// Disconnect はデバイスの切断を処理する。
// POST /api/events/disconnect
func (h *EventHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	h.service.Disconnect(userID)
	w.WriteHeader(http.StatusNoContent)
}
