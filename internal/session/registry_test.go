package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/pendant/internal/device"
	"github.com/hitoshi/pendant/internal/gcal"
	"github.com/hitoshi/pendant/internal/gmail"
	"github.com/hitoshi/pendant/internal/intent"
	"github.com/hitoshi/pendant/internal/model"
	"github.com/hitoshi/pendant/internal/music"
	"github.com/hitoshi/pendant/internal/shopping"
	"github.com/hitoshi/pendant/internal/store"
)

// mockCapture はテスト用のCaptureServiceモック。
type mockCapture struct {
	captureFunc func(ctx context.Context, userID string) (*model.Photo, error)
	calls       int
}

func (m *mockCapture) Capture(ctx context.Context, userID string) (*model.Photo, error) {
	m.calls++
	if m.captureFunc != nil {
		return m.captureFunc(ctx, userID)
	}
	return &model.Photo{ID: "p1"}, nil
}

// mockStream はテスト用のStreamControlモック。
type mockStream struct {
	streaming map[string]bool
}

func newMockStream() *mockStream { return &mockStream{streaming: make(map[string]bool)} }

func (m *mockStream) Touch(userID string)     {}
func (m *mockStream) Clear(userID string)     { m.streaming[userID] = false }
func (m *mockStream) Streaming(userID string) bool { return m.streaming[userID] }
func (m *mockStream) SetStreaming(userID string, enabled bool) {
	m.streaming[userID] = enabled
}
func (m *mockStream) ToggleStreaming(userID string) bool {
	m.streaming[userID] = !m.streaming[userID]
	return m.streaming[userID]
}

// mockMail はテスト用のMailReaderモック。
type mockMail struct {
	unreadFunc func(ctx context.Context, userID string) (int, error)
	recentFunc func(ctx context.Context, userID string, max int) ([]*gmail.EmailSummary, error)
}

func (m *mockMail) UnreadCount(ctx context.Context, userID string) (int, error) {
	if m.unreadFunc != nil {
		return m.unreadFunc(ctx, userID)
	}
	return 0, nil
}

func (m *mockMail) RecentEmails(ctx context.Context, userID string, max int) ([]*gmail.EmailSummary, error) {
	if m.recentFunc != nil {
		return m.recentFunc(ctx, userID, max)
	}
	return nil, nil
}

// mockCalendar はテスト用のCalendarReaderモック。
type mockCalendar struct {
	eventsFunc func(ctx context.Context, userID string, start, end time.Time) ([]*gcal.Event, error)
}

func (m *mockCalendar) Events(ctx context.Context, userID string, start, end time.Time) ([]*gcal.Event, error) {
	if m.eventsFunc != nil {
		return m.eventsFunc(ctx, userID, start, end)
	}
	return nil, nil
}

// mockShopping はテスト用のShoppingStarterモック。
type mockShopping struct {
	createFunc func(ctx context.Context, userID string) (*shopping.Session, error)
}

func (m *mockShopping) CreateSession(ctx context.Context, userID string) (*shopping.Session, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, userID)
	}
	return &shopping.Session{ID: "s1", CheckoutURL: "https://shop.example.com/s1"}, nil
}

// mockSubmitter はテスト用のSongSubmitterモック。
type mockSubmitter struct {
	configured bool
	submitFunc func(ctx context.Context, prompt, tags string) (string, error)
	lastPrompt string
}

func (m *mockSubmitter) Configured() bool { return m.configured }

func (m *mockSubmitter) Submit(ctx context.Context, prompt, tags string) (string, error) {
	m.lastPrompt = prompt
	if m.submitFunc != nil {
		return m.submitFunc(ctx, prompt, tags)
	}
	return "job-1", nil
}

type allowAllGuard struct{}

func (allowAllGuard) ValidateURL(rawURL string) error { return nil }

var _ music.URLValidator = allowAllGuard{}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

type registryDeps struct {
	stores    *store.UserStores
	capture   *mockCapture
	stream    *mockStream
	mail      *mockMail
	calendar  *mockCalendar
	shopping  *mockShopping
	submitter *mockSubmitter
	tracker   *music.Tracker
}

func newTestRegistry() (*Registry, *registryDeps) {
	deps := &registryDeps{
		stores:    store.NewUserStores(),
		capture:   &mockCapture{},
		stream:    newMockStream(),
		mail:      &mockMail{},
		calendar:  &mockCalendar{},
		shopping:  &mockShopping{},
		submitter: &mockSubmitter{configured: true},
	}
	deps.tracker = music.NewTracker(deps.stores, allowAllGuard{}, testLogger())

	r := NewRegistry(
		intent.NewClassifier(),
		deps.stores,
		deps.capture,
		deps.stream,
		deps.mail,
		deps.calendar,
		deps.shopping,
		deps.submitter,
		deps.tracker,
		testLogger(),
		nil,
	)
	return r, deps
}

func final(text string) device.UtteranceEvent {
	return device.UtteranceEvent{Text: text, IsFinal: true}
}

// TestHandleUtterance_IgnoresNonFinal は認識途中の結果が記録も分類も
// されないことを検証する。
func TestHandleUtterance_IgnoresNonFinal(t *testing.T) {
	r, deps := newTestRegistry()

	result, err := r.HandleUtterance(context.Background(), "user-1",
		device.UtteranceEvent{Text: "take a photo", IsFinal: false})
	if err != nil {
		t.Fatalf("HandleUtterance failed: %v", err)
	}

	if result.Intent != intent.IntentNone {
		t.Errorf("intent = %s, want none", result.Intent)
	}
	if deps.stores.Transcriptions("user-1").Len() != 0 {
		t.Error("認識途中の結果が記録されています")
	}
	if deps.capture.calls != 0 {
		t.Error("認識途中の結果でアクションが実行されています")
	}
}

// TestHandleUtterance_EmptyTextIsInvalid は空白のみの発話がINVALID_EVENTで
// 拒否されることを検証する。
func TestHandleUtterance_EmptyTextIsInvalid(t *testing.T) {
	r, _ := newTestRegistry()

	_, err := r.HandleUtterance(context.Background(), "user-1", final("   "))

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *model.APIError", err)
	}
	if apiErr.Code != model.ErrCodeInvalidEvent {
		t.Errorf("code = %s, want %s", apiErr.Code, model.ErrCodeInvalidEvent)
	}
}

// TestHandleUtterance_RecordsBeforeDispatch は文字起こしの記録がアクション
// 実行より先に行われることを検証する。アクションの失敗は記録を妨げない。
func TestHandleUtterance_RecordsBeforeDispatch(t *testing.T) {
	r, deps := newTestRegistry()

	var lenAtDispatch int
	deps.capture.captureFunc = func(ctx context.Context, userID string) (*model.Photo, error) {
		lenAtDispatch = deps.stores.Transcriptions(userID).Len()
		return nil, errors.New("device offline")
	}

	result, err := r.HandleUtterance(context.Background(), "user-1", final("Take a Photo please"))
	if err != nil {
		t.Fatalf("HandleUtterance failed: %v", err)
	}

	if result.Intent != intent.IntentPhoto {
		t.Errorf("intent = %s, want photo", result.Intent)
	}
	if lenAtDispatch != 1 {
		t.Errorf("アクション実行時点の記録数 = %d, want 1（記録はアクションより先）", lenAtDispatch)
	}

	// 撮影失敗でも記録は残り、正規化済みテキストとactivatedフラグを持つ
	tr, ok := deps.stores.Transcriptions("user-1").Find(func(tr *model.Transcription) bool { return true })
	if !ok {
		t.Fatal("文字起こしが記録されていません")
	}
	if tr.Text != "take a photo please" {
		t.Errorf("Text = %q, want 正規化済みテキスト", tr.Text)
	}
	if !tr.Activated {
		t.Error("分類にマッチした発話のActivatedがfalseです")
	}
}

// TestHandleUtterance_RecordsUnmatchedUtterances はどのカテゴリにも
// マッチしない発話も記録されることを検証する。
func TestHandleUtterance_RecordsUnmatchedUtterances(t *testing.T) {
	r, deps := newTestRegistry()

	result, err := r.HandleUtterance(context.Background(), "user-1", final("what a lovely day"))
	if err != nil {
		t.Fatalf("HandleUtterance failed: %v", err)
	}

	if result.Intent != intent.IntentNone {
		t.Errorf("intent = %s, want none", result.Intent)
	}
	tr, ok := deps.stores.Transcriptions("user-1").Find(func(tr *model.Transcription) bool { return true })
	if !ok {
		t.Fatal("マッチしない発話が記録されていません")
	}
	if tr.Activated {
		t.Error("マッチしない発話のActivatedがtrueです")
	}
	if deps.capture.calls != 0 {
		t.Error("マッチしない発話でアクションが実行されています")
	}
}

// TestHandleUtterance_DispatchesExactlyOneAction は複数カテゴリを含む発話で
// 優先順位の高いアクションだけが実行されることを検証する。
func TestHandleUtterance_DispatchesExactlyOneAction(t *testing.T) {
	r, deps := newTestRegistry()

	var mailCalls int
	deps.mail.unreadFunc = func(ctx context.Context, userID string) (int, error) {
		mailCalls++
		return 0, nil
	}

	result, err := r.HandleUtterance(context.Background(), "user-1",
		final("take a photo and check my email"))
	if err != nil {
		t.Fatalf("HandleUtterance failed: %v", err)
	}

	if result.Intent != intent.IntentPhoto {
		t.Errorf("intent = %s, want photo", result.Intent)
	}
	if deps.capture.calls != 1 {
		t.Errorf("capture calls = %d, want 1", deps.capture.calls)
	}
	if mailCalls != 0 {
		t.Errorf("mail calls = %d, want 0（アクションはちょうど1つ）", mailCalls)
	}
}

// TestHandleUtterance_ActionErrorDegradesToMessage はアクションの失敗が
// エラーではなく応答文への縮退になることを検証する。
func TestHandleUtterance_ActionErrorDegradesToMessage(t *testing.T) {
	r, deps := newTestRegistry()
	deps.calendar.eventsFunc = func(ctx context.Context, userID string, start, end time.Time) ([]*gcal.Event, error) {
		return nil, errors.New("not authorized")
	}

	result, err := r.HandleUtterance(context.Background(), "user-1", final("check my calendar"))
	if err != nil {
		t.Fatalf("アクション失敗がエラーとして伝播しています: %v", err)
	}
	if !strings.Contains(result.Message, "確認できませんでした") {
		t.Errorf("message = %q, want 縮退メッセージ", result.Message)
	}
}

// TestHandleButton_ShortPressCapturesImmediately は短押しが分類を経由せず
// 即時撮影になることを検証する。
func TestHandleButton_ShortPressCapturesImmediately(t *testing.T) {
	r, deps := newTestRegistry()

	_, err := r.HandleButton(context.Background(), "user-1",
		device.ButtonEvent{ButtonID: "main", PressType: device.PressShort})
	if err != nil {
		t.Fatalf("HandleButton failed: %v", err)
	}

	if deps.capture.calls != 1 {
		t.Errorf("capture calls = %d, want 1", deps.capture.calls)
	}
	if deps.stores.Transcriptions("user-1").Len() != 0 {
		t.Error("ボタンイベントが文字起こしとして記録されています")
	}
}

// TestHandleButton_LongPressTogglesStreaming は長押しがストリーミングモードを
// トグルすることを検証する。
func TestHandleButton_LongPressTogglesStreaming(t *testing.T) {
	r, deps := newTestRegistry()

	_, err := r.HandleButton(context.Background(), "user-1",
		device.ButtonEvent{ButtonID: "main", PressType: device.PressLong})
	if err != nil {
		t.Fatalf("HandleButton failed: %v", err)
	}
	if !deps.stream.Streaming("user-1") {
		t.Error("長押しでストリーミングが有効になっていません")
	}

	_, _ = r.HandleButton(context.Background(), "user-1",
		device.ButtonEvent{ButtonID: "main", PressType: device.PressLong})
	if deps.stream.Streaming("user-1") {
		t.Error("2回目の長押しでストリーミングが無効になっていません")
	}
}

// TestHandleButton_UnknownPressTypeIsInvalid は未知の押下種別が
// INVALID_EVENTで拒否されることを検証する。
func TestHandleButton_UnknownPressTypeIsInvalid(t *testing.T) {
	r, _ := newTestRegistry()

	_, err := r.HandleButton(context.Background(), "user-1",
		device.ButtonEvent{ButtonID: "main", PressType: "double"})

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *model.APIError", err)
	}
	if apiErr.Code != model.ErrCodeInvalidEvent {
		t.Errorf("code = %s, want %s", apiErr.Code, model.ErrCodeInvalidEvent)
	}
}

// TestGenerateSong_RequiresSelectedMaterial は素材未選択の生成要求が
// NO_MATERIAL_SELECTEDで拒否されることを検証する。
func TestGenerateSong_RequiresSelectedMaterial(t *testing.T) {
	r, deps := newTestRegistry()

	// 選択されていない素材だけを置く
	deps.stores.Photos("user-1").Append(&model.Photo{ID: "p1", Caption: "a street"})
	deps.stores.Transcriptions("user-1").Append(&model.Transcription{ID: "t1", Text: "hello"})

	_, err := r.GenerateSong(context.Background(), "user-1")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *model.APIError", err)
	}
	if apiErr.Code != model.ErrCodeNoMaterialSelected {
		t.Errorf("code = %s, want %s", apiErr.Code, model.ErrCodeNoMaterialSelected)
	}
}

// TestGenerateSong_BuildsPromptFromSelectedMaterial は選択済みの写真キャプションと
// 文字起こしからプロンプトが構築されることを検証する。
func TestGenerateSong_BuildsPromptFromSelectedMaterial(t *testing.T) {
	r, deps := newTestRegistry()

	deps.stores.Photos("user-1").Append(&model.Photo{
		ID: "p1", Caption: "a quiet street", Selected: true, CaptionGenerated: true,
	})
	// キャプションのない選択済み写真はプロンプトに寄与しない
	deps.stores.Photos("user-1").Append(&model.Photo{ID: "p2", Selected: true})
	deps.stores.Transcriptions("user-1").Append(&model.Transcription{
		ID: "t1", Text: "remember this moment", Selected: true,
	})

	song, err := r.GenerateSong(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GenerateSong failed: %v", err)
	}

	if deps.submitter.lastPrompt != "a quiet street / remember this moment" {
		t.Errorf("prompt = %q", deps.submitter.lastPrompt)
	}
	if song.Status != model.SongStatusSubmitted {
		t.Errorf("status = %s, want submitted", song.Status)
	}
	if song.PhotoCount != 1 || song.TranscriptionCount != 1 {
		t.Errorf("material counts = %d, %d, want 1, 1", song.PhotoCount, song.TranscriptionCount)
	}

	// 楽曲が保存され、ジョブが追跡される
	if deps.stores.Songs("user-1").Len() != 1 {
		t.Error("楽曲が保存されていません")
	}
	if len(deps.tracker.Jobs()) != 1 {
		t.Error("ジョブが追跡されていません")
	}
}

// TestGenerateSong_TruncatesLongPrompt はプロンプトが最大長で
// 切り詰められることを検証する。
func TestGenerateSong_TruncatesLongPrompt(t *testing.T) {
	r, deps := newTestRegistry()

	long := strings.Repeat("a", maxPromptLength+500)
	deps.stores.Transcriptions("user-1").Append(&model.Transcription{
		ID: "t1", Text: long, Selected: true,
	})

	if _, err := r.GenerateSong(context.Background(), "user-1"); err != nil {
		t.Fatalf("GenerateSong failed: %v", err)
	}

	if len(deps.submitter.lastPrompt) != maxPromptLength {
		t.Errorf("prompt length = %d, want %d", len(deps.submitter.lastPrompt), maxPromptLength)
	}
}

// TestGenerateSong_TruncatesOnRuneBoundary はマルチバイト文字を含む
// プロンプトの切り詰めが文字の途中で行われないことを検証する。
func TestGenerateSong_TruncatesOnRuneBoundary(t *testing.T) {
	r, deps := newTestRegistry()

	// 3バイト文字×1000 = 3000バイト。2500バイト目は文字の途中になる
	long := strings.Repeat("あ", 1000)
	deps.stores.Transcriptions("user-1").Append(&model.Transcription{
		ID: "t1", Text: long, Selected: true,
	})

	if _, err := r.GenerateSong(context.Background(), "user-1"); err != nil {
		t.Fatalf("GenerateSong failed: %v", err)
	}

	got := deps.submitter.lastPrompt
	if !utf8.ValidString(got) {
		t.Error("切り詰め後のプロンプトが不正なUTF-8になっています")
	}
	if len(got) > maxPromptLength {
		t.Errorf("prompt length = %d, want <= %d", len(got), maxPromptLength)
	}
}

// TestGenerateSong_NotConfigured は楽曲生成API未設定時にNOT_CONFIGUREDが
// 返ることを検証する。
func TestGenerateSong_NotConfigured(t *testing.T) {
	r, deps := newTestRegistry()
	deps.submitter.configured = false

	_, err := r.GenerateSong(context.Background(), "user-1")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *model.APIError", err)
	}
	if apiErr.Code != model.ErrCodeNotConfigured {
		t.Errorf("code = %s, want %s", apiErr.Code, model.ErrCodeNotConfigured)
	}
}

// TestGenerateSong_SubmitFailure はジョブ送信失敗時にGENERATION_FAILEDが返り、
// 楽曲が保存されないことを検証する。
func TestGenerateSong_SubmitFailure(t *testing.T) {
	r, deps := newTestRegistry()
	deps.submitter.submitFunc = func(ctx context.Context, prompt, tags string) (string, error) {
		return "", errors.New("vendor rejected")
	}
	deps.stores.Transcriptions("user-1").Append(&model.Transcription{
		ID: "t1", Text: "hello", Selected: true,
	})

	_, err := r.GenerateSong(context.Background(), "user-1")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *model.APIError", err)
	}
	if apiErr.Code != model.ErrCodeGenerationFailed {
		t.Errorf("code = %s, want %s", apiErr.Code, model.ErrCodeGenerationFailed)
	}
	if deps.stores.Songs("user-1").Len() != 0 {
		t.Error("送信失敗時に楽曲が保存されています")
	}
	if len(deps.tracker.Jobs()) != 0 {
		t.Error("送信失敗時にジョブが追跡されています")
	}
}

// TestDisconnect_KeepsHistoryStores は切断で履歴ストアが保持されることを検証する。
func TestDisconnect_KeepsHistoryStores(t *testing.T) {
	r, deps := newTestRegistry()

	if _, err := r.HandleUtterance(context.Background(), "user-1", final("hello world")); err != nil {
		t.Fatalf("HandleUtterance failed: %v", err)
	}
	deps.stream.SetStreaming("user-1", true)

	r.Disconnect("user-1")

	if deps.stores.Transcriptions("user-1").Len() != 1 {
		t.Error("切断で履歴ストアが消えています")
	}
	if deps.stream.Streaming("user-1") {
		t.Error("切断後もストリーミングが有効のままです")
	}
}
