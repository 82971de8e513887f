package tokenize

import (
	"errors"

	"github.com/Overland-East-Bay/hosted-fields/internal/app/protocol"
	"github.com/Overland-East-Bay/hosted-fields/internal/ports/out/gateway"
)

// ReplyError converts a pipeline failure into its bus representation.
// Attached original errors are flattened to their message and, for gateway
// errors, their status and code.
func ReplyError(err error) *protocol.ReplyError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		out := &protocol.ReplyError{Type: string(ce.Kind), Code: ce.Code, Message: ce.Message}
		if len(ce.Details) > 0 {
			out.Details = make(map[string]any, len(ce.Details))
			for k, v := range ce.Details {
				if e, ok := v.(error); ok {
					out.Details[k] = describe(e)
					continue
				}
				out.Details[k] = v
			}
		}
		return out
	}

	var ge *gateway.Error
	if errors.As(err, &ge) {
		return &protocol.ReplyError{Type: string(ge.Kind), Code: ge.Code, Message: ge.Message}
	}
	return &protocol.ReplyError{Type: string(gateway.KindInternal), Code: CodeFailedTokenization, Message: err.Error()}
}

func describe(err error) map[string]any {
	out := map[string]any{"message": err.Error()}
	var ge *gateway.Error
	if errors.As(err, &ge) {
		out["code"] = ge.Code
		if ge.Status != 0 {
			out["status"] = ge.Status
		}
		var se *gateway.ServiceError
		if errors.As(ge.Cause, &se) && len(se.FieldErrors) > 0 {
			out["fieldErrors"] = se.FieldErrors
		}
	}
	return out
}
