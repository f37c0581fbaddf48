package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/waypoint-immigration/portal/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-123"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("payment_not_found", "payment is not pending\nor missing", http.StatusNotFound).
		WithDetails(map[string]any{"payment_id": "pay_1"}))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "payment_not_found" {
		t.Fatalf("unexpected code %v", body["error"])
	}
	if body["message"] != "payment is not pending or missing" {
		t.Fatalf("expected newline stripped, got %v", body["message"])
	}
	if body["trace_id"] != "trace-123" {
		t.Fatalf("expected trace id, got %v", body["trace_id"])
	}
	if body["payment_id"] != "pay_1" {
		t.Fatalf("expected details merged, got %v", body)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		CaseID string `json:"case_id"`
	}

	cases := []struct {
		name   string
		body   string
		limit  int64
		status int
	}{
		{name: "valid", body: `{"case_id":"case-1"}`, limit: 64},
		{name: "empty", body: "  ", limit: 64, status: http.StatusBadRequest},
		{name: "unknown field", body: `{"case_id":"c","extra":1}`, limit: 64, status: http.StatusBadRequest},
		{name: "too large", body: `{"case_id":"` + strings.Repeat("x", 80) + `"}`, limit: 16, status: http.StatusRequestEntityTooLarge},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var dst payload
			errResp := DecodeJSON(req, tc.limit, &dst)
			if tc.status == 0 {
				if errResp != nil {
					t.Fatalf("unexpected error %v", errResp)
				}
				if dst.CaseID != "case-1" {
					t.Fatalf("unexpected decode result %+v", dst)
				}
				return
			}
			if errResp == nil || errResp.Status != tc.status {
				t.Fatalf("expected status %d, got %+v", tc.status, errResp)
			}
		})
	}
}
