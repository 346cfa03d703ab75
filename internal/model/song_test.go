package model

import "testing"

// TestSongStatusRank は状態の順序付けをテストする。
// ポーリング結果の逆行を無視するための順序比較に使われる。
func TestSongStatusRank(t *testing.T) {
	tests := []struct {
		status SongStatus
		want   int
	}{
		{SongStatusSubmitted, 0},
		{SongStatusStreaming, 1},
		{SongStatusComplete, 2},
		{SongStatusFailed, -1},
		{SongStatus("unknown"), -1},
	}

	for _, tt := range tests {
		if got := tt.status.Rank(); got != tt.want {
			t.Errorf("Rank(%q) = %d, want %d", tt.status, got, tt.want)
		}
	}
}

// TestSongStatusRankIsMonotonic は submitted → streaming → complete の
// 順序が単調増加であることをテストする。
func TestSongStatusRankIsMonotonic(t *testing.T) {
	order := []SongStatus{SongStatusSubmitted, SongStatusStreaming, SongStatusComplete}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("Rank(%q) = %d should be greater than Rank(%q) = %d",
				order[i], order[i].Rank(), order[i-1], order[i-1].Rank())
		}
	}
}

// TestSongStatusTerminal は終端状態の判定をテストする。
func TestSongStatusTerminal(t *testing.T) {
	tests := []struct {
		status SongStatus
		want   bool
	}{
		{SongStatusSubmitted, false},
		{SongStatusStreaming, false},
		{SongStatusComplete, true},
		{SongStatusFailed, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("Terminal(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
