package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPHistoryFetcher(t *testing.T) {
	var gotPath, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLimit = r.URL.Query().Get("limit")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"data":{"messages":[
			{"id":4,"roomId":3,"userId":"alice","content":"hi","messageType":"text","createdAt":"2026-01-01T00:00:00Z"},
			{"id":5,"roomId":3,"userId":"bob","content":"","messageType":"image","fileUrl":"/f/1.png","createdAt":"2026-01-01T00:00:01Z"}
		]}}`)
	}))
	defer srv.Close()

	f := &HTTPHistoryFetcher{BaseURL: srv.URL}
	msgs, err := f.LatestMessages(context.Background(), 3, 25)
	if err != nil {
		t.Fatalf("LatestMessages: %v", err)
	}
	if gotPath != "/api/messages/3/latest" || gotLimit != "25" {
		t.Errorf("request path=%q limit=%q", gotPath, gotLimit)
	}
	if !equalIDs(ids(msgs), []int64{4, 5}) {
		t.Fatalf("ids = %v", ids(msgs))
	}
	if msgs[1].FileURL == nil || *msgs[1].FileURL != "/f/1.png" {
		t.Errorf("fileUrl = %v", msgs[1].FileURL)
	}
}

func TestHTTPHistoryFetcher_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"api failure", http.StatusNotFound, `{"success":false,"message":"room not found"}`, ErrRequestFailed},
		{"non-json error", http.StatusBadGateway, `<html>bad gateway</html>`, ErrUnexpectedStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			f := &HTTPHistoryFetcher{BaseURL: srv.URL}
			if _, err := f.LatestMessages(context.Background(), 1, 0); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
