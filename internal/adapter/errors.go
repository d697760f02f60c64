package adapter

import "errors"

// ErrValidation indicates a malformed request (empty message list, missing
// user message).
var ErrValidation = errors.New("invalid request")

// ErrInitialization indicates the vendor session failed to initialize or
// authorize.
var ErrInitialization = errors.New("session initialization failed")

// ErrUpstream indicates the vendor query reported errors or failed outright.
var ErrUpstream = errors.New("upstream error")

// ErrStreaming indicates the polling loop failed; the stream that raised it
// is poisoned and every further Recv fails the same way.
var ErrStreaming = errors.New("streaming error")
