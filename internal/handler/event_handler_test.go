package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/pendant/internal/device"
	"github.com/hitoshi/pendant/internal/intent"
	"github.com/hitoshi/pendant/internal/model"
	"github.com/hitoshi/pendant/internal/session"
)

// mockEventService はEventServiceInterfaceのモック実装。
type mockEventService struct {
	handleUtteranceFn func(ctx context.Context, userID string, ev device.UtteranceEvent) (*session.DispatchResult, error)
	handleButtonFn    func(ctx context.Context, userID string, ev device.ButtonEvent) (*session.DispatchResult, error)

	streaming map[string]bool
	disconnected []string
}

func (m *mockEventService) HandleUtterance(ctx context.Context, userID string, ev device.UtteranceEvent) (*session.DispatchResult, error) {
	if m.handleUtteranceFn != nil {
		return m.handleUtteranceFn(ctx, userID, ev)
	}
	return &session.DispatchResult{Intent: intent.IntentNone}, nil
}

func (m *mockEventService) HandleButton(ctx context.Context, userID string, ev device.ButtonEvent) (*session.DispatchResult, error) {
	if m.handleButtonFn != nil {
		return m.handleButtonFn(ctx, userID, ev)
	}
	return &session.DispatchResult{Intent: intent.IntentNone}, nil
}

func (m *mockEventService) SetStreaming(userID string, enabled bool) {
	if m.streaming == nil {
		m.streaming = make(map[string]bool)
	}
	m.streaming[userID] = enabled
}

func (m *mockEventService) Streaming(userID string) bool {
	return m.streaming[userID]
}

func (m *mockEventService) Disconnect(userID string) {
	m.disconnected = append(m.disconnected, userID)
}

// --- POST /api/events/utterance テスト ---

func TestEventHandler_Utterance_DispatchesToService(t *testing.T) {
	svc := &mockEventService{
		handleUtteranceFn: func(ctx context.Context, userID string, ev device.UtteranceEvent) (*session.DispatchResult, error) {
			if userID != "user-1" {
				t.Errorf("userID = %q, want %q", userID, "user-1")
			}
			if ev.Text != "Take a photo" || !ev.IsFinal {
				t.Errorf("unexpected event: %+v", ev)
			}
			return &session.DispatchResult{Intent: intent.IntentPhoto, Message: "写真を撮影しました。"}, nil
		},
	}
	h := NewEventHandler(svc)

	body := `{"text": "Take a photo", "is_final": true}`
	req := httptest.NewRequest(http.MethodPost, "/api/events/utterance", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.Utterance(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var result session.DispatchResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Intent != intent.IntentPhoto {
		t.Errorf("intent = %q, want %q", result.Intent, intent.IntentPhoto)
	}
}

func TestEventHandler_Utterance_InvalidBody_Returns400(t *testing.T) {
	h := NewEventHandler(&mockEventService{})

	req := httptest.NewRequest(http.MethodPost, "/api/events/utterance", bytes.NewBufferString(`{invalid`))
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.Utterance(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestEventHandler_Utterance_ServiceError_MapsToStatus(t *testing.T) {
	svc := &mockEventService{
		handleUtteranceFn: func(ctx context.Context, userID string, ev device.UtteranceEvent) (*session.DispatchResult, error) {
			return nil, model.NewInvalidEventError("空の発話テキスト")
		},
	}
	h := NewEventHandler(svc)

	body := `{"text": "", "is_final": true}`
	req := httptest.NewRequest(http.MethodPost, "/api/events/utterance", bytes.NewBufferString(body))
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.Utterance(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}

	respBody := parseAPIErrorResponse(t, w)
	if respBody["code"] != model.ErrCodeInvalidEvent {
		t.Errorf("code = %q, want %q", respBody["code"], model.ErrCodeInvalidEvent)
	}
}

func TestEventHandler_Utterance_NoUserID_Returns401(t *testing.T) {
	h := NewEventHandler(&mockEventService{})

	req := httptest.NewRequest(http.MethodPost, "/api/events/utterance", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()

	h.Utterance(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

// --- POST /api/events/button テスト ---

func TestEventHandler_Button_DispatchesToService(t *testing.T) {
	svc := &mockEventService{
		handleButtonFn: func(ctx context.Context, userID string, ev device.ButtonEvent) (*session.DispatchResult, error) {
			if ev.ButtonID != "main" || ev.PressType != device.PressShort {
				t.Errorf("unexpected event: %+v", ev)
			}
			return &session.DispatchResult{Intent: intent.IntentPhoto}, nil
		},
	}
	h := NewEventHandler(svc)

	body := `{"button_id": "main", "press_type": "short"}`
	req := httptest.NewRequest(http.MethodPost, "/api/events/button", bytes.NewBufferString(body))
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.Button(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestEventHandler_Button_UnknownPressType_Returns400(t *testing.T) {
	svc := &mockEventService{
		handleButtonFn: func(ctx context.Context, userID string, ev device.ButtonEvent) (*session.DispatchResult, error) {
			return nil, model.NewInvalidEventError("未知の押下種別")
		},
	}
	h := NewEventHandler(svc)

	body := `{"button_id": "main", "press_type": "triple"}`
	req := httptest.NewRequest(http.MethodPost, "/api/events/button", bytes.NewBufferString(body))
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.Button(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

// --- /api/streaming テスト ---

func TestEventHandler_SetStreaming_TogglesMode(t *testing.T) {
	svc := &mockEventService{}
	h := NewEventHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/streaming", bytes.NewBufferString(`{"enabled": true}`))
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.SetStreaming(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	var result streamingResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !result.Streaming {
		t.Error("streaming should be true")
	}
	if !svc.streaming["user-1"] {
		t.Error("service should reflect the new mode")
	}
}

func TestEventHandler_GetStreaming_ReturnsCurrentMode(t *testing.T) {
	svc := &mockEventService{streaming: map[string]bool{"user-1": true}}
	h := NewEventHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/streaming", nil)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.GetStreaming(w, req)

	var result streamingResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !result.Streaming {
		t.Error("streaming should be true")
	}
}

// --- POST /api/events/disconnect テスト ---

func TestEventHandler_Disconnect_Returns204(t *testing.T) {
	svc := &mockEventService{}
	h := NewEventHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/events/disconnect", nil)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.Disconnect(w, req)

	if w.Result().StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNoContent)
	}
	if len(svc.disconnected) != 1 || svc.disconnected[0] != "user-1" {
		t.Errorf("disconnected = %v, want [user-1]", svc.disconnected)
	}
}
