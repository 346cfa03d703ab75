// Package model はドメインモデルを定義する。
package model

import "time"

// Photo はデバイスのカメラで撮影された写真を表す。
// キャプションは撮影後に非同期で生成されるため、作成直後は未設定。
type Photo struct {
	ID          string
	Data        []byte
	CapturedAt  time.Time
	ContentType string
	Filename    string
	Size        int64

	// Selected は楽曲生成の素材として選択されているかを示す。
	Selected bool

	// Caption は画像説明APIが生成した説明文。生成失敗時は空のまま。
	Caption string
	// CaptionGenerated はキャプション生成処理が完了したか（成功・失敗を問わず）を示す。
	// 画像説明APIが未設定の場合は永久にfalseのまま。
	CaptionGenerated bool
}
