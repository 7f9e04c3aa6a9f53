package callstore

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("call not found")

// CallStatus tracks the provider-reported state of one outbound call.
type CallStatus struct {
	Status       string    `json:"status"`
	PhoneNumber  string    `json:"phoneNumber"`
	CustomerName string    `json:"customerName"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// CallContext is the prompt-relevant context captured at call initiation and
// read once when the telephony leg's relay session starts.
type CallContext struct {
	CustomerName string    `json:"customerName"`
	Purpose      string    `json:"purpose"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Store keeps call status and context keyed by the provider call id. The
// interface boundary lets a single-process deployment use the in-memory map
// and swap in shared storage later.
type Store interface {
	PutStatus(ctx context.Context, callSid string, status CallStatus) error
	GetStatus(ctx context.Context, callSid string) (CallStatus, error)
	// UpdateStatus changes only the status field of an existing record.
	UpdateStatus(ctx context.Context, callSid, status string) error
	PutContext(ctx context.Context, callSid string, cc CallContext) error
	GetContext(ctx context.Context, callSid string) (CallContext, error)
	Delete(ctx context.Context, callSid string) error
	Close() error
}
