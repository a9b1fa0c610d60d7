package catalog

import (
	"errors"

	"kc-go/internal/labels"
	"kc-go/internal/tree"
)

var (
	// ErrInvalidPosition is returned for sibling insertion next to a root or
	// an unknown position name.
	ErrInvalidPosition = tree.ErrInvalidPosition

	// ErrStaleTarget is returned when an insertion target's coordinates no
	// longer match the stored row.
	ErrStaleTarget = errors.New("insertion target is stale")

	// ErrNodeNotFound is returned when a referenced content node does not exist.
	ErrNodeNotFound = errors.New("content node not found")

	// ErrChannelNotFound is returned when a referenced channel does not exist.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrRequestNotFound is returned when a request id does not exist within
	// the view's request type.
	ErrRequestNotFound = errors.New("content request not found")

	// ErrDuplicateRequest is returned when a request with the same
	// (type, source model, source id, content node) already exists.
	ErrDuplicateRequest = errors.New("duplicate content request")

	// ErrUntypedRequestView is returned by a request ledger view that was
	// constructed without a request type.
	ErrUntypedRequestView = errors.New("request view has no request type")

	// ErrInvalidTransition is returned for a request status change the state
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid request status transition")

	ErrUnknownLabelGroup = labels.ErrUnknownGroup
)
