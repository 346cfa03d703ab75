package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// TickInterval はスケジューラの周期。1秒ごとに各ユーザーの期限を確認する。
	TickInterval = 1 * time.Second
	// FallbackDeadline は撮影開始時に楽観的に設定するフォールバック期限。
	// 撮影が解決しないままハングした場合でも、この時間が経過すると
	// 次のティックで新しい撮影が開始され、無限の停止を防ぐ。
	FallbackDeadline = 30 * time.Second
)

// streamState はユーザー1人分のストリーミング撮影状態。
// streamingとnextDeadlineの組はmuで常に一緒に更新される。
type streamState struct {
	mu           sync.Mutex
	streaming    bool
	nextDeadline time.Time
}

// Scheduler はストリーミングモード中のユーザーに対して定期撮影を行う。
//
// 各ユーザーの状態は {streaming, nextDeadline} の2つで、遷移は次の通り:
//   - 長押しまたは明示的なトグルでstreamingが反転する。
//   - 1秒周期のティックが streaming かつ now > nextDeadline のユーザーを検出し、
//     (1) nextDeadline = now + 30s を先に設定（フォールバック）、
//     (2) 撮影を実行、
//     (3) 完了時（成功・失敗を問わず）に nextDeadline = now へ戻す。
//
// この2段階の期限更新により、撮影がハングしても30秒後に自己回復し、
// 高速に成功した場合はフォールバック期限を待たずに次のティックで撮影可能になる。
// 撮影は独立したゴルーチンで実行され、他ユーザーのスケジューリングを妨げない。
type Scheduler struct {
	service *Service
	logger  *slog.Logger

	mu     sync.Mutex
	states map[string]*streamState

	// now はテストで時刻を差し替えるためのフック。
	now func() time.Time
}

// NewScheduler はSchedulerを生成する。
func NewScheduler(service *Service, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		service: service,
		logger:  logger,
		states:  make(map[string]*streamState),
		now:     time.Now,
	}
}

// Touch はユーザーの初回接続時に状態を初期化する。
// streaming=false、nextDeadline=now から開始する。既存の状態は変更しない。
func (s *Scheduler) Touch(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[userID]; !ok {
		s.states[userID] = &streamState{nextDeadline: s.now()}
	}
}

// Streaming はユーザーのストリーミングモードが有効かを返す。
func (s *Scheduler) Streaming(userID string) bool {
	st := s.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.streaming
}

// SetStreaming はストリーミングモードを設定する。
// 有効化しても即時撮影は行わず、次の期限到来ティックで撮影される。
func (s *Scheduler) SetStreaming(userID string, enabled bool) {
	st := s.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.streaming = enabled
	if enabled {
		st.nextDeadline = s.now()
	}

	s.logger.Info("ストリーミングモードを切り替えました",
		slog.String("user_id", userID),
		slog.Bool("streaming", enabled),
	)
}

// ToggleStreaming はストリーミングモードを反転し、反転後の値を返す。
func (s *Scheduler) ToggleStreaming(userID string) bool {
	st := s.state(userID)
	st.mu.Lock()
	enabled := !st.streaming
	st.streaming = enabled
	if enabled {
		st.nextDeadline = s.now()
	}
	st.mu.Unlock()

	s.logger.Info("ストリーミングモードを切り替えました",
		slog.String("user_id", userID),
		slog.Bool("streaming", enabled),
	)
	return enabled
}

// Clear はユーザーの切断時にストリーミングフラグと期限のみを初期化する。
// 履歴ストアはプロセス終了まで保持されるため、ここでは触らない。
func (s *Scheduler) Clear(userID string) {
	st := s.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.streaming = false
	st.nextDeadline = s.now()
}

// Start は1秒周期のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	s.logger.Info("撮影スケジューラを開始しました",
		slog.Duration("tick_interval", TickInterval),
		slog.Duration("fallback_deadline", FallbackDeadline),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("撮影スケジューラを停止しました")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick は全ユーザーの期限を1回確認し、期限到来のユーザーの撮影を開始する。
// 1ティックにつきユーザーごとに高々1回しか撮影を開始しない。
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	due := make([]string, 0, len(s.states))
	for userID, st := range s.states {
		st.mu.Lock()
		if st.streaming && now.After(st.nextDeadline) {
			// (1) 撮影がハングした場合に備えてフォールバック期限を先に設定する
			st.nextDeadline = now.Add(FallbackDeadline)
			due = append(due, userID)
		}
		st.mu.Unlock()
	}
	s.mu.Unlock()

	for _, userID := range due {
		go s.captureOne(ctx, userID)
	}
}

// captureOne は1ユーザー分の撮影を実行し、完了時に期限をリセットする。
func (s *Scheduler) captureOne(ctx context.Context, userID string) {
	// (2) 撮影の実行。エラーはService側でログ済みのため、ここでは結果に関わらず続行する。
	if _, err := s.service.Capture(ctx, userID); err != nil {
		s.logger.Info("定期撮影に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	// (3) 完了時（成功・失敗を問わず）に期限を現在時刻へ戻し、
	// 次のティックを即座に撮影可能にする。
	st := s.state(userID)
	st.mu.Lock()
	st.nextDeadline = s.now()
	st.mu.Unlock()
}

// state はユーザーの状態を取得または作成する。
func (s *Scheduler) state(userID string) *streamState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[userID]
	if !ok {
		st = &streamState{nextDeadline: s.now()}
		s.states[userID] = st
	}
	return st
}
