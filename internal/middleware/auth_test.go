package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/plateo/feedengine/internal/auth"
)

func newTestTokens(t *testing.T) *auth.Service {
	t.Helper()
	svc, err := auth.NewService(auth.Config{Secret: "middleware-test-secret", Expiry: time.Minute})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code
}

func TestAuthenticate(t *testing.T) {
	tokens := newTestTokens(t)
	valid, err := tokens.IssueAccessToken("viewer-42")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	tests := []struct {
		name       string
		required   bool
		header     string
		wantStatus int
		wantViewer string
	}{
		{"valid token", true, "Bearer " + valid, http.StatusOK, "viewer-42"},
		{"lowercase scheme", true, "bearer " + valid, http.StatusOK, "viewer-42"},
		{"missing header required", true, "", http.StatusUnauthorized, ""},
		{"missing header optional", false, "", http.StatusOK, ""},
		{"wrong scheme", true, "Basic dXNlcjpwYXNz", http.StatusUnauthorized, ""},
		{"empty token", true, "Bearer ", http.StatusUnauthorized, ""},
		{"garbage token", true, "Bearer not.a.jwt", http.StatusUnauthorized, ""},
		{"garbage token optional", false, "Bearer not.a.jwt", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotViewer string
			handler := Authenticate(tokens, tt.required)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotViewer = GetViewerID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/feed", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if gotViewer != tt.wantViewer {
				t.Errorf("viewer = %q, want %q", gotViewer, tt.wantViewer)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				if code := decodeErrorCode(t, rr); code != "auth_failed" {
					t.Errorf("error code = %q, want auth_failed", code)
				}
			}
		})
	}
}
