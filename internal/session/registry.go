// Package session は接続ユーザーごとの状態管理とイベントディスパッチを提供する。
// 発話イベントの正規化・分類・記録と、分類結果に対応するアクションの実行を
// 1つのコードパスに集約する。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/pendant/internal/device"
	"github.com/hitoshi/pendant/internal/gcal"
	"github.com/hitoshi/pendant/internal/gmail"
	"github.com/hitoshi/pendant/internal/intent"
	"github.com/hitoshi/pendant/internal/model"
	"github.com/hitoshi/pendant/internal/music"
	"github.com/hitoshi/pendant/internal/shopping"
	"github.com/hitoshi/pendant/internal/store"
)

// maxPromptLength は楽曲生成プロンプトの最大長。超過分は切り捨てられる。
const maxPromptLength = 2500

// CaptureService は1回分の撮影実行インターフェース。
type CaptureService interface {
	Capture(ctx context.Context, userID string) (*model.Photo, error)
}

// StreamControl はストリーミング撮影モードの制御インターフェース。
type StreamControl interface {
	Touch(userID string)
	Streaming(userID string) bool
	SetStreaming(userID string, enabled bool)
	ToggleStreaming(userID string) bool
	Clear(userID string)
}

// MailReader はメールファサードのうちディスパッチが必要とする操作。
type MailReader interface {
	UnreadCount(ctx context.Context, userID string) (int, error)
	RecentEmails(ctx context.Context, userID string, max int) ([]*gmail.EmailSummary, error)
}

// CalendarReader はカレンダーファサードのうちディスパッチが必要とする操作。
type CalendarReader interface {
	Events(ctx context.Context, userID string, start, end time.Time) ([]*gcal.Event, error)
}

// ShoppingStarter はショッピングセッション作成のインターフェース。
type ShoppingStarter interface {
	CreateSession(ctx context.Context, userID string) (*shopping.Session, error)
}

// SongSubmitter は楽曲生成ジョブ送信のインターフェース。
type SongSubmitter interface {
	Submit(ctx context.Context, prompt, tags string) (string, error)
	Configured() bool
}

// MetricsRecorder はインテント分類結果のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordIntent(matched intent.Intent)
	RecordSongSubmitted()
}

// DispatchResult はイベント処理の結果。Messageはデバイスが読み上げる応答文。
type DispatchResult struct {
	Intent  intent.Intent `json:"intent"`
	Message string        `json:"message,omitempty"`
}

// sessionRecord は接続ユーザー1人分の接続状態。
// ストリーミングフラグと撮影期限はStreamControl側が保持する。
type sessionRecord struct {
	connectedAt time.Time
	lastEventAt time.Time
}

// Registry は接続ユーザーごとの状態を構成し、イベントを各コンポーネントへ
// 配線する。アクション境界で発生したエラーはすべてここで吸収され、
// ユーザーセッションの終了やプロセスのクラッシュを引き起こさない。
type Registry struct {
	classifier *intent.Classifier
	stores     *store.UserStores
	capture    CaptureService
	stream     StreamControl
	mail       MailReader
	calendar   CalendarReader
	shopping   ShoppingStarter
	generator  SongSubmitter
	tracker    *music.Tracker
	logger     *slog.Logger
	metrics    MetricsRecorder

	mu       sync.Mutex
	sessions map[string]*sessionRecord
}

// NewRegistry はRegistryを生成する。metricsはnil可。
func NewRegistry(
	classifier *intent.Classifier,
	stores *store.UserStores,
	captureService CaptureService,
	stream StreamControl,
	mail MailReader,
	calendar CalendarReader,
	shoppingService ShoppingStarter,
	generator SongSubmitter,
	tracker *music.Tracker,
	logger *slog.Logger,
	metrics MetricsRecorder,
) *Registry {
	return &Registry{
		classifier: classifier,
		stores:     stores,
		capture:    captureService,
		stream:     stream,
		mail:       mail,
		calendar:   calendar,
		shopping:   shoppingService,
		generator:  generator,
		tracker:    tracker,
		logger:     logger,
		metrics:    metrics,
		sessions:   make(map[string]*sessionRecord),
	}
}

// Connect はユーザーの初回接続処理を行う。
// ストリーミングフラグはfalse、撮影期限は現在時刻で初期化される。
// 既存の履歴ストアには影響しない。
func (r *Registry) Connect(userID string) {
	now := time.Now()

	r.mu.Lock()
	if _, ok := r.sessions[userID]; !ok {
		r.sessions[userID] = &sessionRecord{connectedAt: now}
		r.logger.Info("ユーザーが接続しました", slog.String("user_id", userID))
	}
	r.sessions[userID].lastEventAt = now
	r.mu.Unlock()

	r.stream.Touch(userID)
}

// Disconnect はユーザーの切断処理を行う。
// ストリーミングフラグと撮影期限のみを初期化し、履歴ストアは保持する。
func (r *Registry) Disconnect(userID string) {
	r.mu.Lock()
	delete(r.sessions, userID)
	r.mu.Unlock()

	r.stream.Clear(userID)
	r.logger.Info("ユーザーが切断しました", slog.String("user_id", userID))
}

// HandleUtterance は発話イベントを処理する。
// 確定していない認識途中の結果は無視する。確定発話は正規化・分類のうえ
// 必ず文字起こしストアへ記録され、その後に分類結果へ対応するアクションが
// ちょうど1つ実行される。記録はアクションより必ず先に行われる。
func (r *Registry) HandleUtterance(ctx context.Context, userID string, ev device.UtteranceEvent) (*DispatchResult, error) {
	if !ev.IsFinal {
		return &DispatchResult{Intent: intent.IntentNone}, nil
	}

	normalized := intent.Normalize(ev.Text)
	if normalized == "" {
		return nil, model.NewInvalidEventError("発話テキストが空です")
	}

	r.Connect(userID)

	matched := r.classifier.Classify(normalized)
	if r.metrics != nil {
		r.metrics.RecordIntent(matched)
	}

	// 分類結果に関わらず、アクション実行前に必ず記録する
	r.stores.Transcriptions(userID).Append(&model.Transcription{
		ID:        uuid.New().String(),
		Text:      normalized,
		CreatedAt: time.Now(),
		Activated: matched != intent.IntentNone,
	})

	result := &DispatchResult{Intent: matched}
	switch matched {
	case intent.IntentPhoto:
		result.Message = r.dispatchPhoto(ctx, userID)
	case intent.IntentShopping:
		result.Message = r.dispatchShopping(ctx, userID)
	case intent.IntentCalendar:
		result.Message = r.dispatchCalendar(ctx, userID)
	case intent.IntentEmail:
		result.Message = r.dispatchEmail(ctx, userID)
	}

	return result, nil
}

// HandleButton はボタンイベントを処理する。分類を経由しない。
// 短押しはストリーミング状態に関わらず即時の1回撮影、
// 長押しはストリーミングモードのトグルを行う。
func (r *Registry) HandleButton(ctx context.Context, userID string, ev device.ButtonEvent) (*DispatchResult, error) {
	r.Connect(userID)

	switch ev.PressType {
	case device.PressShort:
		return &DispatchResult{Message: r.dispatchPhoto(ctx, userID)}, nil
	case device.PressLong:
		enabled := r.stream.ToggleStreaming(userID)
		msg := "ストリーミング撮影を停止しました。"
		if enabled {
			msg = "ストリーミング撮影を開始しました。"
		}
		return &DispatchResult{Message: msg}, nil
	default:
		return nil, model.NewInvalidEventError(fmt.Sprintf("未知の押下種別です: %s", ev.PressType))
	}
}

// SetStreaming はUIからのストリーミングモード切り替えを処理する。
func (r *Registry) SetStreaming(userID string, enabled bool) {
	r.Connect(userID)
	r.stream.SetStreaming(userID, enabled)
}

// Streaming は現在のストリーミングモードを返す。
func (r *Registry) Streaming(userID string) bool {
	return r.stream.Streaming(userID)
}

// --- アクションディスパッチ ---
// 各アクションのエラーはログに記録のうえ短い応答文へ縮退させる。

// dispatchPhoto は即時撮影を実行する。
func (r *Registry) dispatchPhoto(ctx context.Context, userID string) string {
	if _, err := r.capture.Capture(ctx, userID); err != nil {
		return "写真を撮影できませんでした。"
	}
	return "写真を撮影しました。"
}

// dispatchShopping はショッピングセッションを作成する。
func (r *Registry) dispatchShopping(ctx context.Context, userID string) string {
	session, err := r.shopping.CreateSession(ctx, userID)
	if err != nil {
		return "ショッピングセッションを開始できませんでした。"
	}
	return "ショッピングセッションを開始しました: " + session.CheckoutURL
}

// dispatchCalendar は今後24時間の予定を要約する。
func (r *Registry) dispatchCalendar(ctx context.Context, userID string) string {
	now := time.Now()
	events, err := r.calendar.Events(ctx, userID, now, now.Add(24*time.Hour))
	if err != nil {
		r.logger.Warn("予定の取得に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return "カレンダーを確認できませんでした。Google連携を確認してください。"
	}
	if len(events) == 0 {
		return "今後24時間に予定はありません。"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "今後24時間に%d件の予定があります。", len(events))
	for i, ev := range events {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&sb, " %s、%s。", ev.Start.Format("15:04"), ev.Summary)
	}
	return sb.String()
}

// dispatchEmail は未読数と直近メールを要約する。
func (r *Registry) dispatchEmail(ctx context.Context, userID string) string {
	count, err := r.mail.UnreadCount(ctx, userID)
	if err != nil {
		r.logger.Warn("未読数の取得に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return "メールを確認できませんでした。Google連携を確認してください。"
	}
	if count == 0 {
		return "未読メールはありません。"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "未読メールが%d件あります。", count)

	emails, err := r.mail.RecentEmails(ctx, userID, 3)
	if err == nil {
		for _, email := range emails {
			if email.Unread {
				fmt.Fprintf(&sb, " %sから、%s。", email.From, email.Subject)
			}
		}
	}
	return sb.String()
}

// GenerateSong は現在選択中の素材から楽曲生成ジョブを送信する。
// プロンプトは選択済み写真のキャプションと選択済み文字起こしのテキストから
// 構築され、最大長で切り詰められる。送信後はトラッカーへ登録され、
// ポーリングワーカーが状態を追跡する。
func (r *Registry) GenerateSong(ctx context.Context, userID string) (*model.Song, error) {
	if !r.generator.Configured() {
		return nil, model.NewNotConfiguredError("楽曲生成API")
	}

	photos := r.stores.Photos(userID).Filter(func(p *model.Photo) bool {
		return p.Selected && p.Caption != ""
	})
	transcriptions := r.stores.Transcriptions(userID).Filter(func(t *model.Transcription) bool {
		return t.Selected
	})

	if len(photos) == 0 && len(transcriptions) == 0 {
		return nil, model.NewNoMaterialSelectedError()
	}

	prompt := buildPrompt(photos, transcriptions)
	tags := "ambient, personal, memory"

	jobID, err := r.generator.Submit(ctx, prompt, tags)
	if err != nil {
		r.logger.Warn("楽曲生成ジョブの送信に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewGenerationFailedError(err.Error())
	}

	song := &model.Song{
		ID:                 uuid.New().String(),
		JobID:              jobID,
		Status:             model.SongStatusSubmitted,
		CreatedAt:          time.Now(),
		Prompt:             prompt,
		Tags:               tags,
		PhotoCount:         len(photos),
		TranscriptionCount: len(transcriptions),
	}

	r.stores.Songs(userID).Append(song)
	r.tracker.Register(jobID, userID)

	if r.metrics != nil {
		r.metrics.RecordSongSubmitted()
	}

	r.logger.Info("楽曲生成ジョブを送信しました",
		slog.String("user_id", userID),
		slog.String("job_id", jobID),
		slog.Int("photo_count", song.PhotoCount),
		slog.Int("transcription_count", song.TranscriptionCount),
	)
	return song, nil
}

// buildPrompt は選択済み素材から生成プロンプトを構築する。
// 最大長を超える場合は切り詰める。
func buildPrompt(photos []*model.Photo, transcriptions []*model.Transcription) string {
	var parts []string
	for _, p := range photos {
		parts = append(parts, p.Caption)
	}
	for _, t := range transcriptions {
		parts = append(parts, t.Text)
	}

	prompt := strings.Join(parts, " / ")
	if len(prompt) > maxPromptLength {
		// マルチバイト文字の途中で切らないよう、ルーン境界まで戻してから切り詰める
		cut := maxPromptLength
		for cut > 0 && !utf8.RuneStart(prompt[cut]) {
			cut--
		}
		prompt = prompt[:cut]
	}
	return prompt
}
