package metering

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/scribeflow/scribeflow-backend/pkg/config"
	"github.com/scribeflow/scribeflow-backend/pkg/enums"
)

const defaultVendorTimeout = 60 * time.Second

// HTTPProvider forwards inference payloads to the configured upstream
// vendor and returns the raw response body. It never inspects the payload;
// the desktop client composes the vendor request and the parser reads the
// usage block out of the response.
type HTTPProvider struct {
	cfg    config.VendorConfig
	client *http.Client
}

// NewHTTPProvider builds the vendor-facing provider.
func NewHTTPProvider(cfg config.VendorConfig) *HTTPProvider {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultVendorTimeout
	}
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Invoke posts the payload to the vendor endpoint for req.ProviderID.
// Non-2xx vendor statuses come back as errors carrying a bounded slice of
// the vendor body so operators can see what the vendor rejected.
func (p *HTTPProvider) Invoke(ctx context.Context, req ProviderRequest) (*ProviderResponse, error) {
	endpoint, apply, err := p.route(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(req.Payload))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", req.ProviderID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	apply(httpReq.Header)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: send request: %w", req.ProviderID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", req.ProviderID, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%s: http %d: %s", req.ProviderID, resp.StatusCode, previewBody(body))
	}
	return &ProviderResponse{Body: body}, nil
}

// route maps a provider id onto its endpoint URL and auth headers.
func (p *HTTPProvider) route(req ProviderRequest) (string, func(http.Header), error) {
	switch enums.Provider(req.ProviderID) {
	case enums.ProviderOpenAI:
		if p.cfg.OpenAIAPIKey == "" {
			return "", nil, fmt.Errorf("openai: vendor not configured")
		}
		url := strings.TrimSuffix(p.cfg.OpenAIBaseURL, "/") + "/chat/completions"
		return url, func(h http.Header) {
			h.Set("Authorization", "Bearer "+p.cfg.OpenAIAPIKey)
		}, nil
	case enums.ProviderAnthropic:
		if p.cfg.AnthropicAPIKey == "" {
			return "", nil, fmt.Errorf("anthropic: vendor not configured")
		}
		url := strings.TrimSuffix(p.cfg.AnthropicBaseURL, "/") + "/v1/messages"
		return url, func(h http.Header) {
			h.Set("x-api-key", p.cfg.AnthropicAPIKey)
			h.Set("anthropic-version", p.cfg.AnthropicVersion)
		}, nil
	case enums.ProviderGoogle:
		if p.cfg.GoogleAPIKey == "" {
			return "", nil, fmt.Errorf("google: vendor not configured")
		}
		url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
			strings.TrimSuffix(p.cfg.GoogleBaseURL, "/"), req.ModelID, p.cfg.GoogleAPIKey)
		return url, func(http.Header) {}, nil
	default:
		return "", nil, fmt.Errorf("unsupported provider %q", req.ProviderID)
	}
}

const maxErrorBodyPreview = 512

func previewBody(body []byte) string {
	if len(body) <= maxErrorBodyPreview {
		return string(body)
	}
	return string(body[:maxErrorBodyPreview]) + "..."
}
