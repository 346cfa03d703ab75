// Package store はユーザーごとの容量上限付きインメモリストアを提供する。
// プロセス再起動をまたぐ永続化は行わない。
package store

import "sync"

// BoundedStore は挿入順を保持する容量上限付きコレクション。
// 容量を超える追加は先頭（最古）の要素を1件だけ追い出す（厳密なFIFO。LRUではない）。
// すべての操作はスレッドセーフ。
type BoundedStore[T any] struct {
	mu       sync.RWMutex
	capacity int
	items    []T
}

// NewBoundedStore は容量capacityのBoundedStoreを生成する。
// capacityが0以下の場合は1として扱う。
func NewBoundedStore[T any](capacity int) *BoundedStore[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &BoundedStore[T]{
		capacity: capacity,
		items:    make([]T, 0, capacity),
	}
}

// Append は末尾にitemを追加する。サイズが容量を超える場合は
// 先頭の要素を1件削除してから戻る。失敗することはない。
func (s *BoundedStore[T]) Append(item T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, item)
	if len(s.items) > s.capacity {
		// 先頭要素への参照を残さないようコピーしてから切り詰める
		copy(s.items, s.items[1:])
		var zero T
		s.items[len(s.items)-1] = zero
		s.items = s.items[:len(s.items)-1]
	}
}

// Find はpredを満たす最初の要素を返す。見つからない場合は2番目の戻り値がfalse。
// 順序を変更しない読み取り専用操作。
func (s *BoundedStore[T]) Find(pred func(T) bool) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.items {
		if pred(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Filter はpredを満たす要素を挿入順のまま返す。
func (s *BoundedStore[T]) Filter(pred func(T) bool) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []T
	for _, item := range s.items {
		if pred(item) {
			result = append(result, item)
		}
	}
	return result
}

// All は全要素を挿入順のコピーとして返す。
func (s *BoundedStore[T]) All() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]T, len(s.items))
	copy(result, s.items)
	return result
}

// Update はpredを満たす最初の要素にfnをロック保持中に適用する。
// 要素が見つかった場合はtrueを返す。
func (s *BoundedStore[T]) Update(pred func(T) bool, fn func(T)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range s.items {
		if pred(item) {
			fn(item)
			return true
		}
	}
	return false
}

// Remove はpredを満たす最初の要素を削除する。削除した場合はtrueを返す。
// 残りの要素の相対順序は変わらない。
func (s *BoundedStore[T]) Remove(pred func(T) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, item := range s.items {
		if pred(item) {
			copy(s.items[i:], s.items[i+1:])
			var zero T
			s.items[len(s.items)-1] = zero
			s.items = s.items[:len(s.items)-1]
			return true
		}
	}
	return false
}

// Len は現在の要素数を返す。
func (s *BoundedStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Capacity は構築時に固定された容量を返す。
func (s *BoundedStore[T]) Capacity() int {
	return s.capacity
}
