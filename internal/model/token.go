package model

import "time"

// TokenSet はユーザー1人分のOAuth2クレデンシャルを表す。
// ユーザーごとに高々1つだけ存在し、TokenVaultが唯一の管理主体となる。
// メールとカレンダーの両ファサードは同一のTokenSetを参照する。
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

// Valid はアクセストークンが設定されているかを返す。
// 有効期限切れの判定は行わない（期限切れはAPI呼び出しの401で検出する）。
func (t *TokenSet) Valid() bool {
	return t != nil && t.AccessToken != ""
}

// Clone はTokenSetのコピーを返す。
// Vault外へ渡す際に内部状態への参照を漏らさないために使用する。
func (t *TokenSet) Clone() *TokenSet {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
