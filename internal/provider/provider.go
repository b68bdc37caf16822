// Package provider defines the contract shared by the two AI backends: the
// on-device model runtime and the cloud HTTP API. Exactly one provider is
// active at a time; the hybrid service owns that decision.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/repguard/internal/media"
)

// Kind identifies a backend.
type Kind string

const (
	KindOnDevice Kind = "ondevice"
	KindCloud    Kind = "cloud"
	// KindNone means no usable provider.
	KindNone Kind = "none"
)

// Availability is the tagged result of a capability probe.
type Availability string

const (
	// Available means the backend can serve requests now.
	Available Availability = "available"
	// AfterDownload means the runtime is reachable but the model must be
	// pulled first.
	AfterDownload Availability = "after_download"
	// Unavailable means the runtime did not respond.
	Unavailable Availability = "unavailable"
	// Unsupported means the backend is disabled by configuration.
	Unsupported Availability = "unsupported"
)

// ProbeReport carries the outcome of a bounded-time availability check.
type ProbeReport struct {
	Availability Availability  `json:"availability"`
	Detail       string        `json:"detail,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Usable reports whether the probe found a provider that can serve
// requests without further action.
func (r ProbeReport) Usable() bool {
	return r.Availability == Available
}

// Client is a request executor for one backend. Implementations never retry
// internally; retry and fallback belong to the hybrid service.
type Client interface {
	Kind() Kind
	Model() string
	SupportsImages() bool
	// Complete sends one prompt and returns the raw model text. The system
	// prompt may be empty. Images are attached as typed multimodal parts in
	// input order, never inlined into the prompt text.
	Complete(ctx context.Context, systemPrompt, userPrompt string, images []media.Image) (string, error)
}

// RequestError is the single error kind both clients surface for network
// and model failures during an actual request.
type RequestError struct {
	Kind  Kind
	Model string
	Err   error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s provider (%s): %v", e.Kind, e.Model, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// NewRequestError wraps err as a provider request failure.
func NewRequestError(kind Kind, model string, err error) *RequestError {
	return &RequestError{Kind: kind, Model: model, Err: err}
}
