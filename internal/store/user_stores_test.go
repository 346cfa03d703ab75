package store

import (
	"testing"

	"github.com/hitoshi/pendant/internal/model"
)

// TestUserStores_LazyCreation はストアが初回アクセス時に生成されることを検証する。
func TestUserStores_LazyCreation(t *testing.T) {
	u := NewUserStores()

	photos := u.Photos("user-1")
	if photos == nil {
		t.Fatal("expected non-nil store")
	}
	if photos.Capacity() != PhotoCapacity {
		t.Errorf("capacity = %d, want %d", photos.Capacity(), PhotoCapacity)
	}

	// 2回目のアクセスは同じインスタンスを返す
	photos.Append(&model.Photo{ID: "p1"})
	if u.Photos("user-1").Len() != 1 {
		t.Error("2回目のアクセスで別のストアが返っています")
	}
}

// TestUserStores_IsolatedPerUser はユーザーごとにストアが分離されていることを検証する。
func TestUserStores_IsolatedPerUser(t *testing.T) {
	u := NewUserStores()

	u.Transcriptions("user-1").Append(&model.Transcription{ID: "t1"})

	if u.Transcriptions("user-2").Len() != 0 {
		t.Error("別ユーザーのストアに要素が見えています")
	}
	if u.Transcriptions("user-1").Len() != 1 {
		t.Error("自ユーザーのストアに要素がありません")
	}
}

// TestUserStores_Capacities は各ストアの容量が仕様通りであることを検証する。
func TestUserStores_Capacities(t *testing.T) {
	u := NewUserStores()

	if c := u.Photos("u").Capacity(); c != 50 {
		t.Errorf("photo capacity = %d, want 50", c)
	}
	if c := u.Transcriptions("u").Capacity(); c != 100 {
		t.Errorf("transcription capacity = %d, want 100", c)
	}
	if c := u.Songs("u").Capacity(); c != 25 {
		t.Errorf("song capacity = %d, want 25", c)
	}
}
