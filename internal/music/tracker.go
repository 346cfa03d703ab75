package music

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/pendant/internal/model"
	"github.com/hitoshi/pendant/internal/store"
)

// Job は追跡中のジョブ1件を表す。
type Job struct {
	JobID  string
	UserID string
}

// URLValidator はベンダー返却URLの事前検証インターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Tracker は外部発行のジョブIDから所有ユーザーと楽曲レコードを逆引きする
// 相関テーブル。ポーリング結果をユーザーを知らないワーカーから正しい
// 楽曲レコードへ書き戻すために使用する。
//
// 状態遷移は submitted → streaming → complete の単調増加のみを許可し、
// failedはどの非終端状態からも到達可能な終端状態として扱う。
// 終端状態への遷移時に対応が削除され、以降のポーリング結果は無視される。
type Tracker struct {
	stores *store.UserStores
	guard  URLValidator
	logger *slog.Logger

	mu     sync.Mutex
	owners map[string]string // jobID → userID

	// now はテストで時刻を差し替えるためのフック。
	now func() time.Time
}

// NewTracker はTrackerを生成する。
func NewTracker(stores *store.UserStores, guard URLValidator, logger *slog.Logger) *Tracker {
	return &Tracker{
		stores: stores,
		guard:  guard,
		logger: logger,
		owners: make(map[string]string),
		now:    time.Now,
	}
}

// Register はジョブ送信時にジョブIDと所有ユーザーの対応を登録する。
// ジョブ1件につき1回だけ呼ばれる。
func (t *Tracker) Register(jobID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.owners[jobID] = userID
}

// Unregister はジョブIDの対応を削除する。楽曲の明示的な削除時にも呼ばれ、
// 以降そのジョブのポーリング結果は受け付けられなくなる。
func (t *Tracker) Unregister(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.owners, jobID)
}

// Jobs は追跡中の全ジョブを返す。ポーリングワーカーが使用する。
func (t *Tracker) Jobs() []Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	jobs := make([]Job, 0, len(t.owners))
	for jobID, userID := range t.owners {
		jobs = append(jobs, Job{JobID: jobID, UserID: userID})
	}
	return jobs
}

// ApplyStatus はポーリング結果を対応する楽曲レコードへ適用する。
// 提供されたフィールドのみを更新する部分更新で、省略（空）のフィールドは
// 既存値を維持する。completeへの遷移時にCompletedAtを1回だけ設定し、
// 対応を削除する。対応が既に削除されたジョブへの適用はno-op。
func (t *Tracker) ApplyStatus(jobID string, status *JobStatus) {
	t.mu.Lock()
	userID, ok := t.owners[jobID]
	t.mu.Unlock()

	if !ok {
		// 終端到達後の遅延・重複ポーリングはno-op
		return
	}

	newStatus, recognized := normalizeStatus(status.Status)

	var reachedTerminal bool
	updated := t.stores.Songs(userID).Update(
		func(song *model.Song) bool { return song.JobID == jobID },
		func(song *model.Song) {
			if recognized {
				t.applyTransition(song, newStatus)
			}

			// 部分更新: 提供されたフィールドのみ上書きする
			if status.Title != "" {
				song.Title = status.Title
			}
			if status.AudioURL != "" {
				song.AudioURL = t.validatedURL(jobID, status.AudioURL, song.AudioURL)
			}
			if status.ImageURL != "" {
				song.ImageURL = t.validatedURL(jobID, status.ImageURL, song.ImageURL)
			}
			if len(status.Metadata) > 0 {
				song.Metadata = status.Metadata
			}

			reachedTerminal = song.Status.Terminal()
		},
	)

	if !updated {
		// 楽曲が容量上限で追い出された場合は追跡を打ち切る
		t.logger.Info("ポーリング結果の適用先となる楽曲が見つかりませんでした",
			slog.String("job_id", jobID),
			slog.String("user_id", userID),
		)
		t.Unregister(jobID)
		return
	}

	if reachedTerminal {
		t.Unregister(jobID)
		t.logger.Info("楽曲生成ジョブが終端状態に達しました",
			slog.String("job_id", jobID),
			slog.String("user_id", userID),
			slog.String("status", status.Status),
		)
	}
}

// applyTransition は状態遷移の単調性を強制しつつsongの状態を更新する。
// completeへの遷移時にのみCompletedAtを設定する。
func (t *Tracker) applyTransition(song *model.Song, next model.SongStatus) {
	if song.Status.Terminal() {
		return
	}
	if next == model.SongStatusFailed {
		song.Status = model.SongStatusFailed
		return
	}
	// 逆行する遷移（streaming後のsubmitted等）は無視する
	if next.Rank() <= song.Status.Rank() {
		return
	}
	song.Status = next
	if next == model.SongStatusComplete && song.CompletedAt == nil {
		completed := t.now()
		song.CompletedAt = &completed
	}
}

// validatedURL はベンダー返却URLを検証し、危険な場合は既存値を維持する。
func (t *Tracker) validatedURL(jobID, candidate, current string) string {
	if err := t.guard.ValidateURL(candidate); err != nil {
		t.logger.Warn("ベンダーが返したURLの検証に失敗したため破棄します",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return current
	}
	return candidate
}

// normalizeStatus はベンダーの状態文字列を内部の状態へ正規化する。
// 未知の文字列は認識不能（現在の状態を維持）として扱う。
func normalizeStatus(raw string) (model.SongStatus, bool) {
	switch raw {
	case "queued", "pending", "submitted":
		return model.SongStatusSubmitted, true
	case "streaming", "running", "generating":
		return model.SongStatusStreaming, true
	case "complete", "completed", "succeeded":
		return model.SongStatusComplete, true
	case "failed", "error":
		return model.SongStatusFailed, true
	default:
		return "", false
	}
}
