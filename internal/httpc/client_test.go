package httpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPostText(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"no content", http.StatusNoContent, false},
		{"server error", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if ct := r.Header.Get("Content-Type"); ct != "text/plain" {
					t.Errorf("Content-Type = %q", ct)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := PostText(context.Background(), srv.Client(), srv.URL, "off", time.Second)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var se *StatusError
				if !errors.As(err, &se) || se.StatusCode != tt.status {
					t.Errorf("expected StatusError %d, got %v", tt.status, err)
				}
			}
		})
	}
}

func TestPostText_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	err := PostText(context.Background(), srv.Client(), srv.URL, "on", 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("call took %v, want it bounded by the timeout", elapsed)
	}
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"buttons":"0110"}`))
	}))
	defer srv.Close()

	var out struct {
		Buttons string `json:"buttons"`
	}
	if err := GetJSON(context.Background(), srv.Client(), srv.URL, time.Second, &out); err != nil {
		t.Fatal(err)
	}
	if out.Buttons != "0110" {
		t.Errorf("Buttons = %q, want 0110", out.Buttons)
	}
}

func TestGetJSON_Malformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	var out map[string]any
	if err := GetJSON(context.Background(), srv.Client(), srv.URL, time.Second, &out); err == nil {
		t.Error("expected decode error")
	}
}
