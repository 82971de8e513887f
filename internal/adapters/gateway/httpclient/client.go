package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Overland-East-Bay/hosted-fields/internal/ports/out/gateway"
)

// maxResponseBytes bounds how much of a response body we read.
const maxResponseBytes = 1 << 20

// Client is a net/http implementation of gateway.Client.
type Client struct {
	cfg  gateway.Configuration
	http *http.Client
}

func New(cfg gateway.Configuration, timeout time.Duration) *Client {
	return NewWithOptions(cfg, &http.Client{Timeout: timeout})
}

func NewWithOptions(cfg gateway.Configuration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// NewFactory returns a gateway.Factory building HTTP clients that share httpClient.
func NewFactory(httpClient *http.Client) gateway.Factory {
	return func(cfg gateway.Configuration) (gateway.Client, error) {
		if strings.TrimSpace(cfg.GatewayURL) == "" {
			return nil, fmt.Errorf("missing gateway url")
		}
		if strings.TrimSpace(cfg.AuthorizationFingerprint) == "" {
			return nil, fmt.Errorf("missing authorization fingerprint")
		}
		return NewWithOptions(cfg, httpClient), nil
	}
}

func (c *Client) Configuration() gateway.Configuration { return c.cfg }

func (c *Client) Request(ctx context.Context, req gateway.Request) (json.RawMessage, error) {
	body, err := json.Marshal(req.Data)
	if err != nil {
		return nil, &gateway.Error{
			Kind:    gateway.KindInternal,
			Code:    gateway.CodeRequestError,
			Message: "could not encode request",
			Cause:   err,
		}
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodPost
	}
	url := strings.TrimRight(c.cfg.GatewayURL, "/") + "/v1/" + strings.TrimLeft(req.Endpoint, "/")

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, &gateway.Error{
			Kind:    gateway.KindInternal,
			Code:    gateway.CodeRequestError,
			Message: "could not build request",
			Cause:   err,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.AuthorizationFingerprint)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		code := gateway.CodeGatewayNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			code = gateway.CodeRequestTimeout
		}
		return nil, &gateway.Error{
			Kind:    gateway.KindNetwork,
			Code:    code,
			Message: "could not reach the gateway",
			Cause:   err,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &gateway.Error{
			Kind:    gateway.KindNetwork,
			Code:    gateway.CodeGatewayNetwork,
			Message: "could not read gateway response",
			Status:  resp.StatusCode,
			Cause:   err,
		}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}
	return nil, responseError(resp.StatusCode, raw)
}

type errorDocument struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	FieldErrors []gateway.FieldError `json:"fieldErrors"`
}

func responseError(status int, raw []byte) *gateway.Error {
	ge := &gateway.Error{Status: status}
	switch {
	case status == http.StatusForbidden:
		ge.Kind = gateway.KindMerchant
		ge.Code = gateway.CodeAuthorizationInvalid
		ge.Message = "Client authorization is insufficient."
	case status < 500:
		ge.Kind = gateway.KindCustomer
		ge.Code = gateway.CodeRequestError
		ge.Message = "There was a problem with your request."
	default:
		ge.Kind = gateway.KindNetwork
		ge.Code = gateway.CodeGatewayNetwork
		ge.Message = "Cannot contact the gateway at this time."
	}

	var doc errorDocument
	if err := json.Unmarshal(raw, &doc); err == nil && (doc.Error.Message != "" || len(doc.FieldErrors) > 0) {
		ge.Cause = &gateway.ServiceError{
			Message:     doc.Error.Message,
			FieldErrors: doc.FieldErrors,
		}
	}
	return ge
}
