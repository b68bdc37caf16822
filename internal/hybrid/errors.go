package hybrid

import "errors"

// ErrNotInitialized distinguishes "nobody called Initialize" from a real
// availability gap; the caller's remediation is a lifecycle call, not
// configuration.
var ErrNotInitialized = errors.New("service not initialized")

// ErrNoProvider means initialization ran and found nothing usable. The
// remediation is configuration: install the on-device runtime or set a
// cloud API key.
var ErrNoProvider = errors.New("no provider available: install the on-device runtime or configure a cloud API key")

// ErrEmptyPrompt rejects blank generation prompts before any routing.
var ErrEmptyPrompt = errors.New("prompt must not be empty")
