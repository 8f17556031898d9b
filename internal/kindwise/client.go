package kindwise

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL points at the Kindwise plant identification API.
const DefaultBaseURL = "https://plant.id/api/v3"

// ErrMissingAPIKey is returned before any network call when neither a
// per-call key nor a configured default is available.
var ErrMissingAPIKey = errors.New("kindwise API key is not configured")

// ProviderError reports a transport or provider-side failure of an
// identification call.
type ProviderError struct {
	Reason string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Client exposes the subset of provider functionality used by the
// identification flow. The apiKey argument overrides the client's configured
// default when non-empty.
type Client interface {
	Identify(ctx context.Context, apiKey string, image []byte) (*Result, error)
}

// HTTPClient talks to the Kindwise HTTP API. It performs a single attempt
// per call; retry policy, if any, belongs to the caller.
type HTTPClient struct {
	baseURL    string
	defaultKey string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClient constructs a provider client. baseURL falls back to
// DefaultBaseURL and defaultKey may be empty when every call supplies its
// own credential.
func NewHTTPClient(baseURL, defaultKey string, logger *zap.Logger) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPClient{
		baseURL:    baseURL,
		defaultKey: defaultKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.Named("kindwise"),
	}
}

type identifyRequest struct {
	Images []string `json:"images"`
}

// rawSuggestion is one ranked candidate in the provider response.
type rawSuggestion struct {
	Name        string  `json:"name"`
	Probability float64 `json:"probability"`
	Details     struct {
		CommonNames []string          `json:"common_names"`
		Taxonomy    map[string]string `json:"taxonomy"`
	} `json:"details"`
}

// rawResponse mirrors the provider wire format for the fields this service
// consumes.
type rawResponse struct {
	AccessToken string  `json:"access_token"`
	Created     float64 `json:"created"`
	Result      struct {
		IsPlant struct {
			Binary bool `json:"binary"`
		} `json:"is_plant"`
		Classification struct {
			Suggestions []rawSuggestion `json:"suggestions"`
		} `json:"classification"`
	} `json:"result"`
}

// Identify submits a normalized image for classification and shapes the
// provider response. Fails fast with ErrMissingAPIKey when no credential is
// available; every other failure is a *ProviderError.
func (c *HTTPClient) Identify(ctx context.Context, apiKey string, image []byte) (*Result, error) {
	if apiKey == "" {
		apiKey = c.defaultKey
	}
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	payload, err := json.Marshal(identifyRequest{
		Images: []string{base64.StdEncoding.EncodeToString(image)},
	})
	if err != nil {
		return nil, &ProviderError{Reason: "failed to encode identification request", Err: err}
	}

	url := c.baseURL + "/identification"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &ProviderError{Reason: "failed to build identification request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Reason: "identification request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &ProviderError{Reason: "failed to read provider response", Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &ProviderError{Reason: fmt.Sprintf("provider rejected credentials (status %d)", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("provider returned error status",
			zap.Int("status", resp.StatusCode),
			zap.Int("body_bytes", len(body)),
		)
		return nil, &ProviderError{Reason: fmt.Sprintf("provider returned status %d", resp.StatusCode)}
	}

	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ProviderError{Reason: "malformed provider response", Err: err}
	}

	return shapeResult(&raw), nil
}

// shapeResult projects a provider response onto the internal result shape.
// Suggestion-derived fields are copied from rank 0 only.
func shapeResult(raw *rawResponse) *Result {
	result := &Result{
		CommonNames:      []string{},
		Taxonomy:         map[string]string{},
		IdentificationID: raw.AccessToken,
		IsPlant:          raw.Result.IsPlant.Binary,
		Created:          epochToRFC3339(raw.Created),
	}

	suggestions := raw.Result.Classification.Suggestions
	if len(suggestions) == 0 {
		return result
	}

	top := suggestions[0]
	result.PlantName = top.Name
	probability := top.Probability
	result.Probability = &probability
	if len(top.Details.CommonNames) > 0 {
		result.CommonNames = append(result.CommonNames, top.Details.CommonNames...)
	}
	for rank, value := range top.Details.Taxonomy {
		result.Taxonomy[rank] = value
	}
	return result
}

// epochToRFC3339 renders the provider's fractional unix timestamp in the
// canonical string form stored with the record.
func epochToRFC3339(epoch float64) string {
	if epoch == 0 {
		return ""
	}
	sec, frac := math.Modf(epoch)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC().Format(time.RFC3339)
}
