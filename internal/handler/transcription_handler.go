package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pendant/internal/middleware"
	"github.com/hitoshi/pendant/internal/model"
	"github.com/hitoshi/pendant/internal/store"
)

// TranscriptionStoreProvider はユーザーごとの文字起こしストアを取得するインターフェース。
type TranscriptionStoreProvider interface {
	Transcriptions(userID string) *store.BoundedStore[*model.Transcription]
}

// TranscriptionHandler は文字起こし履歴のHTTPハンドラー。
type TranscriptionHandler struct {
	stores TranscriptionStoreProvider
}

// NewTranscriptionHandler はTranscriptionHandlerを生成する。
func NewTranscriptionHandler(stores TranscriptionStoreProvider) *TranscriptionHandler {
	return &TranscriptionHandler{stores: stores}
}

// transcriptionResponse は文字起こし情報のAPIレスポンス。
type transcriptionResponse struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Activated bool      `json:"activated"`
	Selected  bool      `json:"selected"`
}

func toTranscriptionResponse(t *model.Transcription) transcriptionResponse {
	return transcriptionResponse{
		ID:        t.ID,
		Text:      t.Text,
		CreatedAt: t.CreatedAt,
		Activated: t.Activated,
		Selected:  t.Selected,
	}
}

// ListTranscriptions は文字起こし履歴の一覧を返す。
// GET /api/transcriptions
func (h *TranscriptionHandler) ListTranscriptions(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	transcriptions := h.stores.Transcriptions(userID).All()
	res := make([]transcriptionResponse, 0, len(transcriptions))
	for _, t := range transcriptions {
		res = append(res, toTranscriptionResponse(t))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transcriptions": res,
		"total":          len(res),
	})
}

// SelectTranscription は文字起こしの素材選択状態を更新する。
// POST /api/transcriptions/{id}/select
func (h *TranscriptionHandler) SelectTranscription(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	transcriptionID := chi.URLParam(r, "id")
	updated := h.stores.Transcriptions(userID).Update(
		func(t *model.Transcription) bool { return t.ID == transcriptionID },
		func(t *model.Transcription) { t.Selected = req.Selected },
	)
	if !updated {
		handleServiceError(w, model.NewTranscriptionNotFoundError(transcriptionID))
		return
	}

	transcription, _ := h.stores.Transcriptions(userID).Find(func(t *model.Transcription) bool {
		return t.ID == transcriptionID
	})
	writeJSON(w, http.StatusOK, toTranscriptionResponse(transcription))
}
