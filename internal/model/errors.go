// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, capture, generation, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotConfigured         = "NOT_CONFIGURED"
	ErrCodeAuthRequired          = "AUTH_REQUIRED"
	ErrCodeCaptureFailed         = "CAPTURE_FAILED"
	ErrCodeGenerationFailed      = "GENERATION_FAILED"
	ErrCodeNoMaterialSelected    = "NO_MATERIAL_SELECTED"
	ErrCodePhotoNotFound         = "PHOTO_NOT_FOUND"
	ErrCodeTranscriptionNotFound = "TRANSCRIPTION_NOT_FOUND"
	ErrCodeSongNotFound          = "SONG_NOT_FOUND"
	ErrCodeInvalidEvent          = "INVALID_EVENT"
)

// NewNotConfiguredError は外部機能のクレデンシャルが未設定の場合のエラーを生成する。
// 例外として伝播させず、呼び出し元で空結果に縮退させることを想定している。
func NewNotConfiguredError(capability string) *APIError {
	return &APIError{
		Code:     ErrCodeNotConfigured,
		Message:  fmt.Sprintf("%s の設定がされていません。", capability),
		Category: "system",
		Action:   "管理者に連絡し、必要なAPIキーが設定されているか確認してください。",
	}
}

// NewAuthRequiredError はGoogle連携の認可が必要な場合のエラーを生成する。
func NewAuthRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthRequired,
		Message:  "Googleアカウントの連携が必要です。",
		Category: "auth",
		Action:   "設定画面からGoogleアカウントを連携してください。",
	}
}

// NewCaptureFailedError は写真撮影に失敗した場合のエラーを生成する。
func NewCaptureFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeCaptureFailed,
		Message:  fmt.Sprintf("写真の撮影に失敗しました: %s", reason),
		Category: "capture",
		Action:   "デバイスの接続状態を確認し、再度お試しください。",
	}
}

// NewGenerationFailedError は楽曲生成ジョブの送信に失敗した場合のエラーを生成する。
func NewGenerationFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeGenerationFailed,
		Message:  fmt.Sprintf("楽曲生成の開始に失敗しました: %s", reason),
		Category: "generation",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewNoMaterialSelectedError は楽曲生成の素材が未選択の場合のエラーを生成する。
func NewNoMaterialSelectedError() *APIError {
	return &APIError{
		Code:     ErrCodeNoMaterialSelected,
		Message:  "楽曲生成の素材が選択されていません。",
		Category: "validation",
		Action:   "写真または文字起こしを選択してから生成してください。",
	}
}

// NewPhotoNotFoundError は写真が見つからない場合のエラーを生成する。
func NewPhotoNotFoundError(photoID string) *APIError {
	return &APIError{
		Code:     ErrCodePhotoNotFound,
		Message:  fmt.Sprintf("指定された写真が見つかりません: %s", photoID),
		Category: "validation",
		Action:   "写真IDを確認してください。古い写真は容量上限により削除されている場合があります。",
	}
}

// NewTranscriptionNotFoundError は文字起こしが見つからない場合のエラーを生成する。
func NewTranscriptionNotFoundError(transcriptionID string) *APIError {
	return &APIError{
		Code:     ErrCodeTranscriptionNotFound,
		Message:  fmt.Sprintf("指定された文字起こしが見つかりません: %s", transcriptionID),
		Category: "validation",
		Action:   "文字起こしIDを確認してください。",
	}
}

// NewSongNotFoundError は楽曲が見つからない場合のエラーを生成する。
func NewSongNotFoundError(songID string) *APIError {
	return &APIError{
		Code:     ErrCodeSongNotFound,
		Message:  fmt.Sprintf("指定された楽曲が見つかりません: %s", songID),
		Category: "validation",
		Action:   "楽曲IDを確認してください。",
	}
}

// NewInvalidEventError はデバイスイベントの形式が不正な場合のエラーを生成する。
func NewInvalidEventError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEvent,
		Message:  fmt.Sprintf("イベントの形式が不正です: %s", reason),
		Category: "validation",
		Action:   "リクエストボディの形式を確認してください。",
	}
}
