package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/openarquivo/fichas-api/internal/utils"
)

type remoteProvider struct {
	endpoint string
	apiKey   string
	logger   *utils.Logger
	client   *http.Client
}

type remoteRequest struct {
	Content       string   `json:"content"`
	MimeType      string   `json:"mime_type"`
	MaxPages      int      `json:"max_pages,omitempty"`
	LanguageHints []string `json:"language_hints,omitempty"`
}

type remoteResponse struct {
	Pages []Page `json:"pages"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// NewRemoteProvider creates a provider that calls an HTTP recognition service.
// Per-call deadlines come from the caller's context, not the HTTP client, so
// the dispatcher's timeout cancels the in-flight request.
func NewRemoteProvider(endpoint, apiKey string, logger *utils.Logger) Provider {
	return &remoteProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		logger:   logger,
		client:   &http.Client{},
	}
}

func (p *remoteProvider) Name() string { return "remote" }

func (p *remoteProvider) Recognize(ctx context.Context, req Request) (*Result, error) {
	body := remoteRequest{
		Content:       base64.StdEncoding.EncodeToString(req.Data),
		MimeType:      req.MimeType,
		MaxPages:      req.MaxPages,
		LanguageHints: req.LanguageHints,
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Network-level failures are worth retrying.
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		p.logger.Warn("OCR service transient failure", "status", resp.StatusCode)
		return nil, &TransientError{Err: fmt.Errorf("ocr service returned status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		p.logger.Error("OCR service error", "status", resp.StatusCode, "body", string(respBody))
		return nil, fmt.Errorf("ocr service returned status %d", resp.StatusCode)
	}

	var remoteResp remoteResponse
	if err := json.Unmarshal(respBody, &remoteResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if remoteResp.Error != nil {
		return nil, fmt.Errorf("ocr service error: %s", remoteResp.Error.Message)
	}

	pages := remoteResp.Pages
	if req.MaxPages > 0 && len(pages) > req.MaxPages {
		pages = pages[:req.MaxPages]
	}

	return &Result{Pages: pages}, nil
}
