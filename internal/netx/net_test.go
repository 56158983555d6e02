package netx

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCheckResponse(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantNil bool
		wantMsg string
	}{
		{name: "ok", status: http.StatusOK, wantNil: true},
		{name: "no content", status: http.StatusNoContent, wantNil: true},
		{name: "json error", status: http.StatusUnauthorized, body: `{"success":false,"error":"invalid token"}`, wantMsg: "invalid token"},
		{name: "plain text", status: http.StatusBadGateway, body: "upstream down\n", wantMsg: "upstream down"},
		{name: "empty body", status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Body: io.NopCloser(strings.NewReader(tt.body))}
			err := CheckResponse(resp)
			if tt.wantNil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("error = %v, want *StatusError", err)
			}
			if se.Code != tt.status {
				t.Fatalf("code = %d, want %d", se.Code, tt.status)
			}
			if se.Message != tt.wantMsg {
				t.Fatalf("message = %q, want %q", se.Message, tt.wantMsg)
			}
		})
	}
}

func TestNewHTTPClient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	}))
	defer ts.Close()

	c := NewHTTPClient(time.Second)
	resp, err := c.Get(ts.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer DrainAndClose(resp.Body)
	if err := CheckResponse(resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	if string(b) != "pong" {
		t.Fatalf("body = %q", b)
	}
}

func TestStatusError_Error(t *testing.T) {
	if got := (&StatusError{Code: 500}).Error(); got != "unexpected status 500" {
		t.Fatalf("got %q", got)
	}
	if got := (&StatusError{Code: 404, Message: "x"}).Error(); got != "unexpected status 404: x" {
		t.Fatalf("got %q", got)
	}
}
