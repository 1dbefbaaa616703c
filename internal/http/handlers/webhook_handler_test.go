package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-area-backend/internal/domain"
	"github.com/tbourn/go-area-backend/internal/services"
)

func TestReceiveWebhook(t *testing.T) {
	var gotService, gotHook string
	var gotBody []byte
	h := New(Deps{Webhooks: webhookFunc(func(_ context.Context, service, hookJobID string, body []byte) (*domain.HookLog, error) {
		gotService, gotHook, gotBody = service, hookJobID, body
		switch hookJobID {
		case "missing":
			return nil, services.ErrHookJobNotFound
		case "poller":
			return nil, services.ErrHookNotWebhook
		case "off":
			return nil, services.ErrHookNotActive
		}
		return &domain.HookLog{ID: "log-1", HookJobID: hookJobID}, nil
	})})
	r := newRouter(h)

	w := doJSON(t, r, http.MethodPost, "/webhooks/github/h1", `{"action":"opened"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp WebhookResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Message != "webhook received" || resp.HookLogID != "log-1" {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if gotService != "github" || gotHook != "h1" || string(gotBody) != `{"action":"opened"}` {
		t.Fatalf("delivery not forwarded verbatim: %s %s %s", gotService, gotHook, gotBody)
	}

	for id, want := range map[string]int{
		"missing": http.StatusNotFound,
		"poller":  http.StatusBadRequest,
		"off":     http.StatusBadRequest,
	} {
		if w := doJSON(t, r, http.MethodPost, "/webhooks/github/"+id, `{}`, nil); w.Code != want {
			t.Fatalf("%s: status=%d want %d", id, w.Code, want)
		}
	}
}

func TestReceiveWebhook_BodyTooLarge(t *testing.T) {
	called := false
	h := New(Deps{Webhooks: webhookFunc(func(context.Context, string, string, []byte) (*domain.HookLog, error) {
		called = true
		return &domain.HookLog{ID: "x"}, nil
	})})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/:service/:hookJobId", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 8)
		c.Next()
	}, h.ReceiveWebhook)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/github/h1", strings.NewReader(strings.Repeat("x", 64))))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status=%d", w.Code)
	}
	if called {
		t.Fatalf("oversized body must not reach the service")
	}
}
