package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	solgate "github.com/solgate-labs/solgate"
)

// DefaultFacilitatorTimeout bounds each facilitator call so a hung
// facilitator cannot hang every paywalled request.
const DefaultFacilitatorTimeout = 15 * time.Second

// FacilitatorConfig configures the remote facilitator client.
type FacilitatorConfig struct {
	// URL is the base URL of the facilitator service.
	URL string

	// HTTPClient overrides the HTTP client (optional).
	HTTPClient *http.Client

	// Timeout per request (optional, defaults to DefaultFacilitatorTimeout).
	Timeout time.Duration
}

// Facilitator delegates verification and settlement to a trusted external
// service over HTTP.
type Facilitator struct {
	url        string
	httpClient *http.Client
	log        *zap.Logger
}

// NewFacilitator creates a Facilitator client.
func NewFacilitator(cfg FacilitatorConfig, log *zap.Logger) *Facilitator {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultFacilitatorTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Facilitator{url: cfg.URL, httpClient: httpClient, log: log}
}

// URL returns the facilitator base URL advertised in challenges.
func (f *Facilitator) URL() string { return f.url }

// Verify asks the facilitator whether the payment is valid. A rejection is
// returned as a result with IsValid false; transport failures are errors.
func (f *Facilitator) Verify(ctx context.Context, env *solgate.PaymentEnvelope, req solgate.PaymentRequirements) (*solgate.VerifyResult, error) {
	responseBody, status, err := f.post(ctx, "/verify", env, req)
	if err != nil {
		return nil, err
	}

	var result solgate.VerifyResult
	if err := json.Unmarshal(responseBody, &result); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}

	if status != http.StatusOK {
		// Facilitators report rejections with a reason on non-200 too.
		if result.InvalidReason != "" {
			result.IsValid = false
			return &result, nil
		}
		return nil, fmt.Errorf("facilitator verify failed (%d): %s", status, string(responseBody))
	}
	return &result, nil
}

// Settle asks the facilitator to execute the accepted payment.
func (f *Facilitator) Settle(ctx context.Context, env *solgate.PaymentEnvelope, req solgate.PaymentRequirements) (*solgate.SettleResult, error) {
	responseBody, status, err := f.post(ctx, "/settle", env, req)
	if err != nil {
		return nil, err
	}

	var result solgate.SettleResult
	if err := json.Unmarshal(responseBody, &result); err != nil {
		return nil, fmt.Errorf("facilitator settle failed (%d): %s", status, string(responseBody))
	}
	if status != http.StatusOK && result.ErrorReason == "" {
		return nil, fmt.Errorf("facilitator settle failed (%d): %s", status, string(responseBody))
	}
	return &result, nil
}

func (f *Facilitator) post(ctx context.Context, path string, env *solgate.PaymentEnvelope, reqs solgate.PaymentRequirements) ([]byte, int, error) {
	body, err := json.Marshal(map[string]interface{}{
		"x402Version":         solgate.X402Version,
		"paymentPayload":      env,
		"paymentRequirements": reqs,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal %s request: %w", path, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("create %s request: %w", path, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s response: %w", path, err)
	}
	return responseBody, resp.StatusCode, nil
}
