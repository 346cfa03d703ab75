package model

import "time"

// Transcription は確定した発話1件の文字起こしを表す。
// 分類結果に関わらずすべての確定発話に対して作成される。
// 作成後はSelected以外のフィールドを変更しない。
type Transcription struct {
	ID        string
	Text      string // 正規化済み（小文字化・前後空白除去）
	CreatedAt time.Time

	// Activated はインテント分類でいずれかのカテゴリにマッチしたかを示す。
	Activated bool

	// Selected は楽曲生成の素材として選択されているかを示す。
	Selected bool
}
