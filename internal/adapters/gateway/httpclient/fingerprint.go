package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Fingerprint is a freshly issued client authorization.
type Fingerprint struct {
	AuthorizationFingerprint string   `json:"authorizationFingerprint"`
	MerchantAccountID        string   `json:"merchantAccountId"`
	SupportedCardTypes       []string `json:"supportedCardTypes"`
}

// FetchFingerprint asks the gateway at baseURL to issue an authorization
// fingerprint for merchant.
func FetchFingerprint(ctx context.Context, httpClient *http.Client, baseURL, merchant string) (Fingerprint, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	body, err := json.Marshal(map[string]string{"merchantAccountId": merchant})
	if err != nil {
		return Fingerprint{}, err
	}
	url := strings.TrimRight(baseURL, "/") + "/v1/authorization_fingerprints"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Fingerprint{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fetch fingerprint: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Fingerprint{}, fmt.Errorf("read fingerprint: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Fingerprint{}, responseError(resp.StatusCode, raw)
	}
	var fp Fingerprint
	if err := json.Unmarshal(raw, &fp); err != nil {
		return Fingerprint{}, fmt.Errorf("decode fingerprint: %w", err)
	}
	if fp.AuthorizationFingerprint == "" {
		return Fingerprint{}, fmt.Errorf("gateway issued an empty fingerprint")
	}
	return fp, nil
}
