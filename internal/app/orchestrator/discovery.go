package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Overland-East-Bay/hosted-fields/internal/app/protocol"
)

// Attachable is a surface reachable from the host document.
type Attachable interface {
	Name() string
	Initialize(ctx context.Context, req protocol.InitRequest) error
}

// Document enumerates the surfaces currently attached to the host page.
type Document interface {
	Attached() []Attachable
}

// InitResult records the outcome of initializing one attached surface.
type InitResult struct {
	Surface string `json:"surface"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

func (o *Orchestrator) initializeSurfaces(ctx context.Context) []InitResult {
	if o.opts.Document == nil {
		return nil
	}
	req := protocol.InitRequest{Session: o.ep.Token(), Roles: o.model.Roles()}
	attached := o.opts.Document.Attached()
	results := make([]InitResult, 0, len(attached))
	for _, a := range attached {
		res := InitResult{Surface: a.Name(), OK: true}
		if err := initializeOne(ctx, a, req); err != nil {
			res.OK = false
			res.Error = err.Error()
			o.log.Warn("surface initialization failed", zap.String("surface", a.Name()), zap.Error(err))
		}
		results = append(results, res)
	}
	return results
}

func initializeOne(ctx context.Context, a Attachable, req protocol.InitRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("initialize panicked: %v", r)
		}
	}()
	return a.Initialize(ctx, req)
}
