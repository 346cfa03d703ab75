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

// SongStoreProvider はユーザーごとの楽曲ストアを取得するインターフェース。
type SongStoreProvider interface {
	Songs(userID string) *store.BoundedStore[*model.Song]
}

// SongGeneratorInterface は楽曲生成ジョブ送信のインターフェース。
type SongGeneratorInterface interface {
	GenerateSong(ctx context.Context, userID string) (*model.Song, error)
}

// JobUnregisterer は削除された楽曲のジョブ追跡を解除するインターフェース。
type JobUnregisterer interface {
	Unregister(jobID string)
}

// SongHandler は楽曲ギャラリーのHTTPハンドラー。
type SongHandler struct {
	stores    SongStoreProvider
	generator SongGeneratorInterface
	tracker   JobUnregisterer
}

// NewSongHandler はSongHandlerを生成する。
func NewSongHandler(stores SongStoreProvider, generator SongGeneratorInterface, tracker JobUnregisterer) *SongHandler {
	return &SongHandler{
		stores:    stores,
		generator: generator,
		tracker:   tracker,
	}
}

// songResponse は楽曲情報のAPIレスポンス。
type songResponse struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Status             string     `json:"status"`
	AudioURL           string     `json:"audio_url"`
	ImageURL           string     `json:"image_url"`
	CreatedAt          time.Time  `json:"created_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	Prompt             string     `json:"prompt"`
	Tags               string     `json:"tags"`
	PhotoCount         int        `json:"photo_count"`
	TranscriptionCount int        `json:"transcription_count"`
	Favorite           bool       `json:"favorite"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// favoriteRequest はお気に入り更新のリクエストボディ。
type favoriteRequest struct {
	Favorite bool `json:"favorite"`
}

func toSongResponse(s *model.Song) songResponse {
	return songResponse{
		ID:                 s.ID,
		Title:              s.Title,
		Status:             string(s.Status),
		AudioURL:           s.AudioURL,
		ImageURL:           s.ImageURL,
		CreatedAt:          s.CreatedAt,
		CompletedAt:        s.CompletedAt,
		Prompt:             s.Prompt,
		Tags:               s.Tags,
		PhotoCount:         s.PhotoCount,
		TranscriptionCount: s.TranscriptionCount,
		Favorite:           s.Favorite,
		Metadata:           s.Metadata,
	}
}

// ListSongs は楽曲ギャラリーの一覧を返す。
// GET /api/songs
func (h *SongHandler) ListSongs(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	songs := h.stores.Songs(userID).All()
	res := make([]songResponse, 0, len(songs))
	for _, s := range songs {
		res = append(res, toSongResponse(s))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"songs": res,
		"total": len(res),
	})
}

// GenerateSong は選択中の素材から楽曲生成ジョブを開始する。
// POST /api/songs/generate
func (h *SongHandler) GenerateSong(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	song, err := h.generator.GenerateSong(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, toSongResponse(song))
}

// FavoriteSong は楽曲のお気に入り状態を更新する。
// POST /api/songs/{id}/favorite
func (h *SongHandler) FavoriteSong(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req favoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	songID := chi.URLParam(r, "id")
	updated := h.stores.Songs(userID).Update(
		func(s *model.Song) bool { return s.ID == songID },
		func(s *model.Song) { s.Favorite = req.Favorite },
	)
	if !updated {
		handleServiceError(w, model.NewSongNotFoundError(songID))
		return
	}

	song, _ := h.stores.Songs(userID).Find(func(s *model.Song) bool {
		return s.ID == songID
	})
	writeJSON(w, http.StatusOK, toSongResponse(song))
}

// DeleteSong は楽曲を削除する。進行中ジョブの追跡も解除される。
// DELETE /api/songs/{id}
func (h *SongHandler) DeleteSong(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	songID := chi.URLParam(r, "id")
	song, ok := h.stores.Songs(userID).Find(func(s *model.Song) bool {
		return s.ID == songID
	})
	if !ok {
		handleServiceError(w, model.NewSongNotFoundError(songID))
		return
	}

	// 追跡を先に解除し、削除後にポーリング結果が適用されないようにする
	if song.JobID != "" {
		h.tracker.Unregister(song.JobID)
	}
	h.stores.Songs(userID).Remove(func(s *model.Song) bool {
		return s.ID == songID
	})

	w.WriteHeader(http.StatusNoContent)
}
