// Package protocol names the bus events exchanged by surfaces, the orchestrator
// and the host page, and the payload shapes they carry.
package protocol

import (
	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
)

const (
	// EventFrameReady is emitted by a surface after it joins the bus (with reply).
	EventFrameReady = "hosted-fields:FRAME_READY"
	// EventReadyForClient is emitted by the orchestrator toward the host page (with reply).
	EventReadyForClient = "hosted-fields:READY_FOR_CLIENT"
	// EventTokenizationRequest is emitted by the host page (with reply).
	EventTokenizationRequest = "hosted-fields:TOKENIZATION_REQUEST"
	// EventAutofillDataAvailable is emitted by the number surface.
	EventAutofillDataAvailable = "hosted-fields:AUTOFILL_DATA_AVAILABLE"
	// EventInput is emitted by a surface when its value or focus changes (optional reply).
	EventInput = "hosted-fields:INPUT_EVENT"
	// EventFieldStateChanged is broadcast by the orchestrator after every model write.
	EventFieldStateChanged = "hosted-fields:FIELD_STATE_CHANGED"
)

// FrameReady announces a surface.
type FrameReady struct {
	Field domain.Role `json:"field"`
}

// FieldConfig is the per-role configuration handed to a surface.
type FieldConfig struct {
	Placeholder            string `json:"placeholder,omitempty"`
	Mask                   bool   `json:"mask,omitempty"`
	RejectUnsupportedCards bool   `json:"rejectUnsupportedCards,omitempty"`
}

// Handshake is the orchestrator's reply to FrameReady.
// Error is set when the form could not be bootstrapped (e.g. no client); the
// surface must treat it as fatal.
type Handshake struct {
	Field           domain.Role                  `json:"field"`
	State           domain.FieldState            `json:"state"`
	Config          FieldConfig                  `json:"config"`
	Styles          map[string]map[string]string `json:"styles,omitempty"`
	AutofillEnabled bool                         `json:"autofillEnabled"`
	Error           string                       `json:"error,omitempty"`
}

// Input is a surface-originated model update.
type Input struct {
	Field     domain.Role `json:"field"`
	Value     *string     `json:"value,omitempty"`
	IsFocused *bool       `json:"isFocused,omitempty"`
}

// FieldStateChanged carries the authoritative state of one role after a write.
type FieldStateChanged struct {
	Field domain.Role       `json:"field"`
	State domain.FieldState `json:"state"`
}

// ClientConfiguration is the host page's reply to ReadyForClient. Error is set
// when the host could not obtain credentials.
type ClientConfiguration struct {
	GatewayURL               string   `json:"gatewayUrl"`
	AuthorizationFingerprint string   `json:"authorizationFingerprint"`
	MerchantAccountID        string   `json:"merchantAccountId,omitempty"`
	SupportedCardTypes       []string `json:"supportedCardTypes,omitempty"`
	Error                    string   `json:"error,omitempty"`
}

// ReplyError is an error as it crosses the bus.
type ReplyError struct {
	Type    string         `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *ReplyError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

// TokenizeReply is the tokenization reply, the [err, result] pair as an object.
// Exactly one of Error and Result is set.
type TokenizeReply struct {
	Error  *ReplyError            `json:"error,omitempty"`
	Result *domain.TokenizeResult `json:"result,omitempty"`
}

// InputResult answers an Input with every state the write changed.
type InputResult struct {
	States map[domain.Role]domain.FieldState `json:"states,omitempty"`
	Error  string                            `json:"error,omitempty"`
}

// InitRequest is handed to every attached surface once the model exists.
type InitRequest struct {
	Session domain.SessionToken `json:"session"`
	Roles   []domain.Role       `json:"roles"`
}
