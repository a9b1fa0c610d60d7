package model

import (
	"encoding/json"
	"time"
)

// RequestType is the action a content request asks for.
type RequestType string

const (
	RequestDownload RequestType = "DOWNLOAD"
	RequestRemoval  RequestType = "REMOVAL"
)

// RequestReason records who originated a content request.
type RequestReason string

const (
	ReasonUserInitiated RequestReason = "USER_INITIATED"
	ReasonSyncInitiated RequestReason = "SYNC_INITIATED"
)

// RequestStatus is the lifecycle state of a content request.
type RequestStatus string

const (
	StatusPending    RequestStatus = "PENDING"
	StatusInProgress RequestStatus = "IN_PROGRESS"
	StatusFailed     RequestStatus = "FAILED"
	StatusCompleted  RequestStatus = "COMPLETED"
)

// ParseRequestStatus converts a status string into a RequestStatus.
func ParseRequestStatus(s string) (RequestStatus, bool) {
	switch st := RequestStatus(s); st {
	case StatusPending, StatusInProgress, StatusFailed, StatusCompleted:
		return st, true
	}
	return "", false
}

// CanTransition reports whether a request may move from s to next.
// Failed requests may be re-submitted by resetting them to Pending.
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusCompleted || next == StatusFailed
	case StatusFailed:
		return next == StatusPending
	}
	return false
}

// FacilityUserModel is the source model name for user initiated requests.
const FacilityUserModel = "facilityuser"

// FacilityUser is the subset of a facility user the ledger needs.
type FacilityUser struct {
	ID         string
	FacilityID string
}

// ContentRequest is a desired download or removal of one content node,
// scoped to a facility. (Type, SourceModel, SourceID, ContentNodeID) is unique.
type ContentRequest struct {
	ID            string
	FacilityID    string
	SourceModel   string
	SourceID      string
	Type          RequestType
	Reason        RequestReason
	Status        RequestStatus
	ContentNodeID string
	Metadata      json.RawMessage
	RequestedAt   time.Time
}
