package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"roomcast/pkg/types"
)

// HistoryFetcher returns the latest messages of a room in ascending id order.
type HistoryFetcher interface {
	LatestMessages(ctx context.Context, roomID int64, limit int) ([]*types.Message, error)
}

// HTTPHistoryFetcher calls GET {BaseURL}/api/messages/{roomId}/latest?limit=N.
type HTTPHistoryFetcher struct {
	BaseURL string
	Client  *http.Client
}

type historyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Messages []*types.Message `json:"messages"`
	} `json:"data"`
}

func (f *HTTPHistoryFetcher) LatestMessages(ctx context.Context, roomID int64, limit int) ([]*types.Message, error) {
	endpoint := fmt.Sprintf("%s/api/messages/%d/latest", strings.TrimRight(f.BaseURL, "/"), roomID)
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var out historyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
		}
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !out.Success {
		return nil, fmt.Errorf("%w: %d %s", ErrRequestFailed, resp.StatusCode, out.Message)
	}
	return out.Data.Messages, nil
}
