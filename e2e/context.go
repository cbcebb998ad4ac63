package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TestContext drives a running console over HTTP and keeps the last response
// for assertions.
type TestContext struct {
	baseURL string
	runID   string
	client  *http.Client

	status int
	body   []byte
}

func NewTestContext(baseURL string) *TestContext {
	return &TestContext{
		baseURL: strings.TrimRight(baseURL, "/"),
		runID:   strconv.FormatInt(time.Now().UnixNano(), 36),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Reset forgets the previous response.
func (tc *TestContext) Reset() {
	tc.status = 0
	tc.body = nil
}

// Unique suffixes id so scenarios can run repeatedly against the same store.
func (tc *TestContext) Unique(id string) string {
	return id + "-" + tc.runID
}

func (tc *TestContext) Do(method, path string, body any) error {
	status, data, err := tc.send(method, path, body)
	if err != nil {
		return err
	}
	tc.status, tc.body = status, data
	return nil
}

func (tc *TestContext) StatusCode() int {
	return tc.status
}

// Response decodes the last response body.
func (tc *TestContext) Response() (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(tc.body, &out); err != nil {
		return nil, fmt.Errorf("decode response %q: %w", tc.body, err)
	}
	return out, nil
}

// View fetches the current view state without touching the last response.
func (tc *TestContext) View() (map[string]any, error) {
	status, data, err := tc.send(http.MethodGet, "/view", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("GET /view: status %d", status)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode view: %w", err)
	}
	return out, nil
}

func (tc *TestContext) send(method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, tc.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := tc.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}
