package code

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	cortex "github.com/nevindra/cortex"
)

// HTTPRunner executes code by POSTing to a remote sandbox service.
// It implements cortex.CodeRunner.
type HTTPRunner struct {
	cfg    runnerConfig
	client *http.Client
}

var _ cortex.CodeRunner = (*HTTPRunner)(nil)

// NewHTTPRunner creates an HTTPRunner that POSTs code to the sandbox
// at sandboxURL (e.g. "http://sandbox:9000").
func NewHTTPRunner(sandboxURL string, opts ...Option) *HTTPRunner {
	cfg := defaultConfig()
	cfg.sandboxURL = strings.TrimRight(sandboxURL, "/")
	for _, o := range opts {
		o(&cfg)
	}
	return &HTTPRunner{cfg: cfg, client: &http.Client{}}
}

// wireRequest is the sandbox execute-request body.
type wireRequest struct {
	Code      string     `json:"code"`
	Runtime   string     `json:"runtime,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	TimeoutMS int64      `json:"timeout_ms,omitempty"`
	Files     []wireFile `json:"files,omitempty"`
}

// wireResponse is the sandbox execute-response body.
type wireResponse struct {
	Output   string     `json:"output"`
	Logs     string     `json:"logs,omitempty"`
	ExitCode int        `json:"exit_code"`
	Error    string     `json:"error,omitempty"`
	Files    []wireFile `json:"files,omitempty"`
}

// wireFile carries file content base64-encoded on the wire.
type wireFile struct {
	Name string `json:"name"`
	MIME string `json:"mime,omitempty"`
	Data string `json:"data,omitempty"`
}

// Run executes code via the sandbox HTTP service.
func (r *HTTPRunner) Run(ctx context.Context, req cortex.CodeRequest) (cortex.CodeResult, error) {
	timeout := r.cfg.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wire := wireRequest{
		Code:      req.Code,
		Runtime:   req.Runtime,
		SessionID: req.SessionID,
		TimeoutMS: timeout.Milliseconds(),
	}
	for _, f := range req.Files {
		wire.Files = append(wire.Files, wireFile{
			Name: f.Name,
			MIME: f.MIME,
			Data: base64.StdEncoding.EncodeToString(f.Data),
		})
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return cortex.CodeResult{}, fmt.Errorf("sandbox: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.sandboxURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return cortex.CodeResult{}, fmt.Errorf("sandbox: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return cortex.CodeResult{}, fmt.Errorf("sandbox execution failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, int64(r.cfg.maxOutput)))
	if err != nil {
		return cortex.CodeResult{}, fmt.Errorf("sandbox: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return cortex.CodeResult{}, &cortex.ErrHTTP{Status: resp.StatusCode, Body: string(respBody)}
	}

	var out wireResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return cortex.CodeResult{}, fmt.Errorf("sandbox: decode response: %w", err)
	}

	result := cortex.CodeResult{
		Output:   out.Output,
		Logs:     out.Logs,
		ExitCode: out.ExitCode,
		Error:    out.Error,
	}
	for _, f := range out.Files {
		data, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			continue // skip undecodable files, keep the rest
		}
		result.Files = append(result.Files, cortex.CodeFile{Name: f.Name, MIME: f.MIME, Data: data})
	}
	return result, nil
}
