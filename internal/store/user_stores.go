package store

import (
	"sync"

	"github.com/hitoshi/pendant/internal/model"
)

// 各ストアの容量。容量を超えた追加は最古の要素を追い出す。
const (
	// PhotoCapacity は写真ギャラリーの保持上限。
	PhotoCapacity = 50
	// TranscriptionCapacity は文字起こし履歴の保持上限。
	TranscriptionCapacity = 100
	// SongCapacity は楽曲ギャラリーの保持上限。
	SongCapacity = 25
)

// UserStores はユーザーごとの写真・文字起こし・楽曲ストアを管理する。
// ストアはユーザーの初回アクセス時に遅延生成され、プロセス終了まで保持される。
// 切断では削除されず、容量上限による追い出しのみで縮小する。
type UserStores struct {
	mu             sync.Mutex
	photos         map[string]*BoundedStore[*model.Photo]
	transcriptions map[string]*BoundedStore[*model.Transcription]
	songs          map[string]*BoundedStore[*model.Song]
}

// NewUserStores はUserStoresを生成する。
func NewUserStores() *UserStores {
	return &UserStores{
		photos:         make(map[string]*BoundedStore[*model.Photo]),
		transcriptions: make(map[string]*BoundedStore[*model.Transcription]),
		songs:          make(map[string]*BoundedStore[*model.Song]),
	}
}

// Photos はuserIDの写真ストアを返す。存在しない場合は生成する。
func (u *UserStores) Photos(userID string) *BoundedStore[*model.Photo] {
	u.mu.Lock()
	defer u.mu.Unlock()

	s, ok := u.photos[userID]
	if !ok {
		s = NewBoundedStore[*model.Photo](PhotoCapacity)
		u.photos[userID] = s
	}
	return s
}

// Transcriptions はuserIDの文字起こしストアを返す。存在しない場合は生成する。
func (u *UserStores) Transcriptions(userID string) *BoundedStore[*model.Transcription] {
	u.mu.Lock()
	defer u.mu.Unlock()

	s, ok := u.transcriptions[userID]
	if !ok {
		s = NewBoundedStore[*model.Transcription](TranscriptionCapacity)
		u.transcriptions[userID] = s
	}
	return s
}

// Songs はuserIDの楽曲ストアを返す。存在しない場合は生成する。
func (u *UserStores) Songs(userID string) *BoundedStore[*model.Song] {
	u.mu.Lock()
	defer u.mu.Unlock()

	s, ok := u.songs[userID]
	if !ok {
		s = NewBoundedStore[*model.Song](SongCapacity)
		u.songs[userID] = s
	}
	return s
}
