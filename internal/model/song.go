package model

import "time"

// SongStatus は楽曲生成ジョブの状態を表す。
type SongStatus string

const (
	// SongStatusSubmitted はジョブを送信済みで生成開始を待っている状態。
	SongStatusSubmitted SongStatus = "submitted"
	// SongStatusStreaming は生成が進行中でストリーミング再生可能な状態。
	SongStatusStreaming SongStatus = "streaming"
	// SongStatusComplete は生成が完了した終端状態。
	SongStatusComplete SongStatus = "complete"
	// SongStatusFailed は生成が失敗した終端状態。どの非終端状態からも遷移しうる。
	SongStatusFailed SongStatus = "failed"
)

// Rank は状態の順序を返す。状態遷移は submitted → streaming → complete の
// 単調増加のみを許可し、逆行するポーリング結果は無視するために使用する。
// failedは終端状態のため順序を持たない（-1）。
func (s SongStatus) Rank() int {
	switch s {
	case SongStatusSubmitted:
		return 0
	case SongStatusStreaming:
		return 1
	case SongStatusComplete:
		return 2
	default:
		return -1
	}
}

// Terminal は終端状態（complete または failed）かどうかを返す。
func (s SongStatus) Terminal() bool {
	return s == SongStatusComplete || s == SongStatusFailed
}

// Song は楽曲生成ジョブとその結果を表す。
// 作成時はSongStatusSubmittedで、ポーリング結果により順次更新される。
type Song struct {
	ID    string
	JobID string // 外部ベンダーが発行する非同期ジョブID

	Title    string
	Status   SongStatus
	AudioURL string
	ImageURL string

	CreatedAt   time.Time
	CompletedAt *time.Time // SongStatusCompleteへの遷移時に1回だけ設定される

	Prompt string
	Tags   string

	// Metadata はベンダーがポーリング結果で返す付随情報（モデル名、再生時間等）。
	Metadata map[string]string

	// 生成プロンプトに寄与した素材数。
	PhotoCount         int
	TranscriptionCount int

	Favorite bool
}
