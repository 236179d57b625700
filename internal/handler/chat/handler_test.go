package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/client/internal/model/chat"
	chatservice "github.com/zhouzirui/z-tavern/client/internal/service/chat"
	"github.com/zhouzirui/z-tavern/client/internal/service/push"
)

func setupRouter(t *testing.T) (*chi.Mux, *chatservice.Service) {
	t.Helper()
	chatSvc := chatservice.NewService()
	handler := New(chatSvc, push.NewHub(), Options{PublicURL: "http://pub/"})
	t.Cleanup(func() { _ = handler.Close() })

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCreateSessionWithoutBodyUsesDefaultTitle(t *testing.T) {
	r, _ := setupRouter(t)

	resp := do(r, http.MethodPost, "/sessions", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var session chat.Session
	if err := json.Unmarshal(resp.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if session.Title != chat.DefaultSessionTitle || session.ID == "" {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestDeleteUnknownSessionReturnsDetail(t *testing.T) {
	r, _ := setupRouter(t)

	resp := do(r, http.MethodDelete, "/sessions/missing", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if body["detail"] != "Session not found" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestChatSeededEmotionReturnsAvatar(t *testing.T) {
	r, svc := setupRouter(t)
	session, _ := svc.CreateSession(t.Context(), "")

	resp := do(r, http.MethodPost, "/chat", chat.ChatRequest{SessionID: session.ID, UserMessage: "I am so sad"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	reply, err := chat.ParseReply(resp.Body.Bytes())
	if err != nil {
		t.Fatalf("ParseReply err: %v", err)
	}
	if reply.Status != chat.StatusSuccess || reply.AvatarURL != "http://pub/static/avatars/sad_01.png" {
		t.Fatalf("unexpected reply %+v", reply)
	}

	resp = do(r, http.MethodGet, "/sessions/"+session.ID+"/messages", nil)
	var messages []chat.WireMessage
	_ = json.Unmarshal(resp.Body.Bytes(), &messages)
	if len(messages) != 2 || messages[0].Content != "I am so sad" {
		t.Fatalf("unexpected transcript %+v", messages)
	}
}

func TestChatUnseededEmotionDefersAvatar(t *testing.T) {
	r, svc := setupRouter(t)
	session, _ := svc.CreateSession(t.Context(), "")

	resp := do(r, http.MethodPost, "/chat", chat.ChatRequest{SessionID: session.ID, UserMessage: "wow!!!"})
	reply, err := chat.ParseReply(resp.Body.Bytes())
	if err != nil {
		t.Fatalf("ParseReply err: %v", err)
	}
	if !reply.Deferred() || reply.AvatarURL != "" {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	r, _ := setupRouter(t)

	resp := do(r, http.MethodPost, "/chat", chat.ChatRequest{SessionID: "s", UserMessage: "  "})
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.Code)
	}
}

func TestChatAfterCloseSchedulesNoAvatarJob(t *testing.T) {
	chatSvc := chatservice.NewService()
	handler := New(chatSvc, push.NewHub(), Options{PublicURL: "http://pub"})
	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	session, _ := chatSvc.CreateSession(t.Context(), "")

	if err := handler.Close(); err != nil {
		t.Fatalf("Close err: %v", err)
	}

	resp := do(r, http.MethodPost, "/chat", chat.ChatRequest{SessionID: session.ID, UserMessage: "wow!!!"})
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
	if handler.schedule(func() { t.Error("job ran after Close") }) {
		t.Fatalf("schedule accepted a job after Close")
	}
	if err := handler.Close(); err != nil {
		t.Fatalf("second Close err: %v", err)
	}
}
