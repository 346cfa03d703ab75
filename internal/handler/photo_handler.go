package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pendant/internal/middleware"
	"github.com/hitoshi/pendant/internal/model"
	"github.com/hitoshi/pendant/internal/store"
)

// PhotoStoreProvider はユーザーごとの写真ストアを取得するインターフェース。
type PhotoStoreProvider interface {
	Photos(userID string) *store.BoundedStore[*model.Photo]
}

// CaptureServiceInterface は写真ハンドラーが必要とする撮影操作。
type CaptureServiceInterface interface {
	Capture(ctx context.Context, userID string) (*model.Photo, error)
}

// PhotoHandler は写真ギャラリーのHTTPハンドラー。
type PhotoHandler struct {
	stores  PhotoStoreProvider
	capture CaptureServiceInterface
}

// NewPhotoHandler はPhotoHandlerを生成する。
func NewPhotoHandler(stores PhotoStoreProvider, capture CaptureServiceInterface) *PhotoHandler {
	return &PhotoHandler{
		stores:  stores,
		capture: capture,
	}
}

// photoResponse は写真情報のAPIレスポンス。画像データ本体は含まない。
type photoResponse struct {
	ID               string    `json:"id"`
	CapturedAt       time.Time `json:"captured_at"`
	ContentType      string    `json:"content_type"`
	Filename         string    `json:"filename"`
	Size             int64     `json:"size"`
	Selected         bool      `json:"selected"`
	Caption          string    `json:"caption"`
	CaptionGenerated bool      `json:"caption_generated"`
}

// selectRequest は素材選択のリクエストボディ。
type selectRequest struct {
	Selected bool `json:"selected"`
}

func toPhotoResponse(p *model.Photo) photoResponse {
	return photoResponse{
		ID:               p.ID,
		CapturedAt:       p.CapturedAt,
		ContentType:      p.ContentType,
		Filename:         p.Filename,
		Size:             p.Size,
		Selected:         p.Selected,
		Caption:          p.Caption,
		CaptionGenerated: p.CaptionGenerated,
	}
}

// ListPhotos は写真ギャラリーの一覧を返す。
// GET /api/photos
func (h *PhotoHandler) ListPhotos(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	photos := h.stores.Photos(userID).All()
	res := make([]photoResponse, 0, len(photos))
	for _, p := range photos {
		res = append(res, toPhotoResponse(p))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"photos": res,
		"total":  len(res),
	})
}

// GetPhotoData は写真の画像データ本体を返す。
// GET /api/photos/{id}/data
func (h *PhotoHandler) GetPhotoData(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	photoID := chi.URLParam(r, "id")
	photo, ok := h.stores.Photos(userID).Find(func(p *model.Photo) bool {
		return p.ID == photoID
	})
	if !ok {
		handleServiceError(w, model.NewPhotoNotFoundError(photoID))
		return
	}

	contentType := photo.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(photo.Data)
}

// SelectPhoto は写真の素材選択状態を更新する。
// POST /api/photos/{id}/select
func (h *PhotoHandler) SelectPhoto(w http.ResponseWriter, r *http.Request) {
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

	photoID := chi.URLParam(r, "id")
	updated := h.stores.Photos(userID).Update(
		func(p *model.Photo) bool { return p.ID == photoID },
		func(p *model.Photo) { p.Selected = req.Selected },
	)
	if !updated {
		handleServiceError(w, model.NewPhotoNotFoundError(photoID))
		return
	}

	photo, _ := h.stores.Photos(userID).Find(func(p *model.Photo) bool {
		return p.ID == photoID
	})
	writeJSON(w, http.StatusOK, toPhotoResponse(photo))
}

// Capture はUIからの即時撮影を処理する。
// POST /api/photos/capture
func (h *PhotoHandler) Capture(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	photo, err := h.capture.Capture(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPhotoResponse(photo))
}
