package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Result is the edited document returned by the document service.
type Result struct {
	Content        []byte
	OutputFileName string
}

// Executor applies a decoded call to a document.
type Executor interface {
	Execute(ctx context.Context, documentID string, call Call) (Result, error)
}

// ErrUnknownTool is returned when asked to execute an Unknown call.
var ErrUnknownTool = errors.New("tools: unknown function")

// ServiceError is a non-2xx reply from the document service.
type ServiceError struct {
	StatusCode int
	Detail     string
}

func (e *ServiceError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("document service status %d", e.StatusCode)
	}
	return fmt.Sprintf("document service status %d: %s", e.StatusCode, e.Detail)
}

const (
	defaultExecutorTimeout = 30 * time.Second
	maxErrorBodyBytes      = 4096
)

// HTTPExecutor posts calls to the document service's function-call endpoint.
type HTTPExecutor struct {
	URL    string
	Client *http.Client
}

func NewHTTPExecutor(url string, client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: defaultExecutorTimeout}
	}
	return &HTTPExecutor{URL: url, Client: client}
}

type functionCallRequest struct {
	DocumentID   string            `json:"document_id"`
	FunctionName string            `json:"function_name"`
	Arguments    map[string]string `json:"arguments"`
}

type functionCallResponse struct {
	Content        string `json:"content"`
	OutputFileName string `json:"outputFileName,omitempty"`
}

func (e *HTTPExecutor) Execute(ctx context.Context, documentID string, call Call) (Result, error) {
	if _, ok := call.(Unknown); ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, call.Name())
	}
	if strings.TrimSpace(e.URL) == "" {
		return Result{}, errors.New("document service url is required")
	}

	body, err := json.Marshal(functionCallRequest{
		DocumentID:   documentID,
		FunctionName: call.Name(),
		Arguments:    call.Arguments(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal function call: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build function call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := e.Client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("function call request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodyBytes))
		return Result{}, &ServiceError{StatusCode: res.StatusCode, Detail: errorDetail(raw)}
	}

	var payload functionCallResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("decode function call response: %w", err)
	}
	content, err := base64.StdEncoding.DecodeString(payload.Content)
	if err != nil {
		return Result{}, fmt.Errorf("decode document content: %w", err)
	}
	return Result{Content: content, OutputFileName: payload.OutputFileName}, nil
}

// errorDetail extracts the "detail" field of an error body, falling back to the
// raw text.
func errorDetail(raw []byte) string {
	var body struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != nil {
		if s, ok := body.Detail.(string); ok {
			return s
		}
		if b, err := json.Marshal(body.Detail); err == nil {
			return string(b)
		}
	}
	return strings.TrimSpace(string(raw))
}
