// Package device はウェアラブルデバイスとの連携機能を提供する。
// デバイスゲートウェイから届くイベントの型定義と、撮影機能のクライアントを含む。
package device

// UtteranceEvent は音声認識結果のイベント。
// IsFinalがfalseの認識途中結果は分類・記録の対象にならない。
type UtteranceEvent struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// ボタン押下の種別。
const (
	// PressShort は短押し。スケジューラを経由せず即時に1回撮影する。
	PressShort = "short"
	// PressLong は長押し。ストリーミング撮影モードをトグルする。
	PressLong = "long"
)

// ButtonEvent は物理ボタンの押下イベント。
type ButtonEvent struct {
	ButtonID  string `json:"button_id"`
	PressType string `json:"press_type"` // "short" または "long"
}
