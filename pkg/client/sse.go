package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// HTTPDialer opens GET {BaseURL}/stream/{roomId}?userId= as a server-sent
// event stream.
type HTTPDialer struct {
	BaseURL string
	// Client must not set a Timeout; streams stay open indefinitely.
	Client *http.Client
}

func (d *HTTPDialer) Dial(ctx context.Context, roomID int64, userID string) (EventStream, error) {
	endpoint, err := streamURL(d.BaseURL, "/stream/", roomID, userID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return newSSEStream(resp.Body), nil
}

func streamURL(base, prefix string, roomID int64, userID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + prefix + strconv.FormatInt(roomID, 10))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("userId", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// sseStream parses the event-stream framing: data lines are joined until a
// blank line ends the event, comments and other fields are skipped.
type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

func newSSEStream(body io.ReadCloser) *sseStream {
	return &sseStream{body: body, reader: bufio.NewReader(body)}
}

func (s *sseStream) Next() ([]byte, error) {
	var data [][]byte
	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return nil, ErrStreamClosed
			}
			return nil, err
		}
		line = bytes.TrimRight(line, "\r\n")

		switch {
		case len(line) == 0:
			if len(data) > 0 {
				return bytes.Join(data, []byte("\n")), nil
			}
		case line[0] == ':':
		case bytes.HasPrefix(line, []byte("data:")):
			value := bytes.TrimPrefix(line[len("data:"):], []byte(" "))
			data = append(data, append([]byte(nil), value...))
		}
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
