package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/pendant/internal/model"
)

// ErrAuthExpired はAPI呼び出しが認可期限切れ（401）で失敗したことを示すシグナル。
// ファサードはプロバイダーの401レスポンスをこのエラーでラップして返し、
// VaultのDoがリフレッシュと1回限りの再試行を行う。
var ErrAuthExpired = errors.New("authorization expired")

// ErrNotAuthorized はユーザーのトークンセットが存在しないことを示す。
var ErrNotAuthorized = errors.New("not authorized")

// ErrNotConfigured はOAuthクライアントクレデンシャルが未設定であることを示す。
// ネットワーク呼び出しの前に検査され、空結果への縮退を指示する。
var ErrNotConfigured = errors.New("oauth client not configured")

// OAuthClient はOAuthプロバイダーのトークン操作インターフェース。
// テスト時にモックに差し替え可能。
type OAuthClient interface {
	// Configured はクライアントクレデンシャルが設定されているかを返す。
	Configured() bool
	// AuthCodeURL は同意画面URLを生成する。
	AuthCodeURL(state string) string
	// Exchange は認可コードをトークンセットに交換する。
	Exchange(ctx context.Context, code string) (*TokenResult, error)
	// Refresh はリフレッシュトークンで新しいトークンセットを取得する。
	Refresh(ctx context.Context, refreshToken string) (*TokenResult, error)
	// Revoke はプロバイダー側でトークンを失効させる。
	Revoke(ctx context.Context, token string) error
}

// TokenSink はクレデンシャル更新の通知先。
// 認可完了・リフレッシュ・失効のたびに呼び出され、ファサードは
// ユーザーごとのキャッシュ無効化などに利用する。
// トークンの参照元はあくまでVaultであり、Sinkは状態の複製を持たない。
type TokenSink interface {
	StoreTokens(userID string, tokens *model.TokenSet)
}

// MetricsRecorder はリフレッシュ結果のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordTokenRefresh(success bool)
}

// Vault はユーザーごとのOAuth2トークンセットの唯一の管理主体。
// メールとカレンダーの両ファサードはVaultを共有し、リフレッシュ後も
// 同一のクレデンシャルを観測する。リフレッシュはユーザーごとの
// ミューテックスで直列化され、同時期限切れによる二重リフレッシュを防ぐ。
type Vault struct {
	client  OAuthClient
	logger  *slog.Logger
	metrics MetricsRecorder

	mu     sync.Mutex
	tokens map[string]*model.TokenSet
	// refreshMu はユーザーごとのリフレッシュ直列化用ミューテックス。
	refreshMu map[string]*sync.Mutex

	sinks []TokenSink
}

// New はVaultを生成する。metricsはnil可。
func New(client OAuthClient, logger *slog.Logger, metrics MetricsRecorder) *Vault {
	return &Vault{
		client:    client,
		logger:    logger,
		metrics:   metrics,
		tokens:    make(map[string]*model.TokenSet),
		refreshMu: make(map[string]*sync.Mutex),
	}
}

// AddSink はクレデンシャル更新の通知先を登録する。起動時の配線でのみ呼ぶこと。
func (v *Vault) AddSink(sink TokenSink) {
	v.sinks = append(v.sinks, sink)
}

// AuthorizationURL はユーザーの同意画面URLを生成する。
// クライアントクレデンシャルが未設定の場合は空文字列を返す。
// userIDは不透明なstateとして埋め込まれ、コールバックで復元される。
func (v *Vault) AuthorizationURL(userID string) string {
	if !v.client.Configured() {
		v.logger.Warn("OAuthクライアントが未設定のため認可URLを生成できません",
			slog.String("user_id", userID),
		)
		return ""
	}
	return v.client.AuthCodeURL(userID)
}

// CompleteAuthorization は認可コードをトークンセットに交換して保存し、
// 登録済みのすべてのSinkに同一のトークンセットを伝播する。
// 両ファサードが同一クレデンシャルを観測することを保証する。
func (v *Vault) CompleteAuthorization(ctx context.Context, code, userID string) error {
	if !v.client.Configured() {
		return ErrNotConfigured
	}

	result, err := v.client.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("認可コードの交換に失敗しました: %w", err)
	}

	ts := &model.TokenSet{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		Expiry:       result.Expiry,
		Scope:        result.Scope,
	}

	v.mu.Lock()
	v.tokens[userID] = ts
	v.mu.Unlock()

	v.notifySinks(userID, ts)

	v.logger.Info("Google連携の認可が完了しました",
		slog.String("user_id", userID),
		slog.String("scope", ts.Scope),
	)
	return nil
}

// IsAuthorized はユーザーのトークンセットが存在し、
// 空でないアクセストークンを含むかを返す。
func (v *Vault) IsAuthorized(userID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tokens[userID].Valid()
}

// Do は外部API呼び出し1回をクレデンシャル付きでラップする。
// 呼び出しがErrAuthExpiredで失敗した場合、保存済みリフレッシュトークンで
// ちょうど1回リフレッシュし、元の呼び出しをちょうど1回だけ再試行する。
// リフレッシュ自体が失敗した場合（リフレッシュトークンなし、または
// プロバイダーが拒否）は再試行せずエラーを返す。
// 期限切れ以外のエラーはそのまま呼び出し元へ伝播する。
func (v *Vault) Do(ctx context.Context, userID string, call func(ctx context.Context, tokens *model.TokenSet) error) error {
	if !v.client.Configured() {
		return ErrNotConfigured
	}

	v.mu.Lock()
	ts := v.tokens[userID].Clone()
	v.mu.Unlock()

	if !ts.Valid() {
		return ErrNotAuthorized
	}

	err := call(ctx, ts)
	if err == nil || !errors.Is(err, ErrAuthExpired) {
		return err
	}

	refreshed, rerr := v.refresh(ctx, userID, ts.AccessToken)
	if rerr != nil {
		v.logger.Warn("トークンのリフレッシュに失敗したため呼び出しを中止します",
			slog.String("user_id", userID),
			slog.String("error", rerr.Error()),
		)
		return fmt.Errorf("トークンのリフレッシュに失敗しました: %w", rerr)
	}

	// リフレッシュ成功後、元の呼び出しをちょうど1回だけ再試行する
	return call(ctx, refreshed)
}

// refresh はユーザーのトークンセットをリフレッシュして置き換える。
// failedAccessTokenは期限切れを観測したアクセストークン。取得済みの
// ミューテックス下で現在値と比較し、並行する呼び出しが先にリフレッシュを
// 済ませていた場合は新しいトークンをそのまま返す（二重リフレッシュ防止）。
func (v *Vault) refresh(ctx context.Context, userID, failedAccessToken string) (*model.TokenSet, error) {
	mu := v.userRefreshMu(userID)
	mu.Lock()
	defer mu.Unlock()

	v.mu.Lock()
	current := v.tokens[userID]
	v.mu.Unlock()

	if current == nil {
		return nil, ErrNotAuthorized
	}

	// 並行呼び出しが先にリフレッシュ済みなら再利用する
	if current.AccessToken != failedAccessToken && current.Valid() {
		return current.Clone(), nil
	}

	if current.RefreshToken == "" {
		v.recordRefresh(false)
		return nil, fmt.Errorf("リフレッシュトークンがありません")
	}

	result, err := v.client.Refresh(ctx, current.RefreshToken)
	if err != nil {
		v.recordRefresh(false)
		return nil, err
	}

	ts := &model.TokenSet{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		Expiry:       result.Expiry,
		Scope:        result.Scope,
	}
	// プロバイダーがrefresh_tokenを返さない場合は既存の値を引き継ぐ
	if ts.RefreshToken == "" {
		ts.RefreshToken = current.RefreshToken
	}
	if ts.Scope == "" {
		ts.Scope = current.Scope
	}

	v.mu.Lock()
	v.tokens[userID] = ts
	v.mu.Unlock()

	v.notifySinks(userID, ts)
	v.recordRefresh(true)

	v.logger.Info("アクセストークンをリフレッシュしました",
		slog.String("user_id", userID),
	)
	return ts.Clone(), nil
}

// Revoke はプロバイダー側の失効（ベストエフォート）とローカル削除を行う。
// プロバイダー側の失効失敗はログに記録するのみで、ローカル削除は必ず実行する。
func (v *Vault) Revoke(ctx context.Context, userID string) {
	v.mu.Lock()
	ts := v.tokens[userID]
	delete(v.tokens, userID)
	v.mu.Unlock()

	if ts.Valid() && v.client.Configured() {
		if err := v.client.Revoke(ctx, ts.AccessToken); err != nil {
			v.logger.Warn("プロバイダー側のトークン失効に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	v.notifySinks(userID, nil)

	v.logger.Info("Google連携を解除しました",
		slog.String("user_id", userID),
	)
}

// userRefreshMu はユーザーごとのリフレッシュ用ミューテックスを取得または作成する。
func (v *Vault) userRefreshMu(userID string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()

	mu, ok := v.refreshMu[userID]
	if !ok {
		mu = &sync.Mutex{}
		v.refreshMu[userID] = mu
	}
	return mu
}

// notifySinks は登録済みのすべてのSinkへクレデンシャル更新を通知する。
func (v *Vault) notifySinks(userID string, ts *model.TokenSet) {
	for _, sink := range v.sinks {
		sink.StoreTokens(userID, ts.Clone())
	}
}

// recordRefresh はリフレッシュ結果をメトリクスに記録する。
func (v *Vault) recordRefresh(success bool) {
	if v.metrics != nil {
		v.metrics.RecordTokenRefresh(success)
	}
}
