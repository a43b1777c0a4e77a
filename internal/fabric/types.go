package fabric

import (
	"context"
	"time"
)

// Op is a lifecycle operation on a live stream object.
type Op string

const (
	OpStart      Op = "start"
	OpStop       Op = "stop"
	OpReset      Op = "reset"
	OpDeactivate Op = "deactivate"
)

// Valid reports whether op is one of the known stream operations.
func (op Op) Valid() bool {
	switch op {
	case OpStart, OpStop, OpReset, OpDeactivate:
		return true
	}
	return false
}

// RecordingPeriod is a time-bounded segment of recorded live content.
type RecordingPeriod struct {
	StartTimeEpochSec int64 `json:"start_time_epoch_sec"`
	EndTimeEpochSec   int64 `json:"end_time_epoch_sec,omitempty"`
}

// Start returns the period start time.
func (p RecordingPeriod) Start() time.Time {
	return time.Unix(p.StartTimeEpochSec, 0).UTC()
}

// End returns the period end time, or the zero time while still recording.
func (p RecordingPeriod) End() time.Time {
	if p.EndTimeEpochSec == 0 {
		return time.Time{}
	}
	return time.Unix(p.EndTimeEpochSec, 0).UTC()
}

// StreamStatus is the result of a stream status query.
type StreamStatus struct {
	State           string            `json:"state"`
	Quality         string            `json:"quality,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`
	RecordingPeriod *RecordingPeriod  `json:"recording_period,omitempty"`
	PlayoutURLs     map[string]string `json:"playout_urls,omitempty"`
}

// CopyRequest asks the fabric to copy a recording period into a VoD object.
type CopyRequest struct {
	TargetLibraryID string `json:"target_library_id"`
	Title           string `json:"title"`
	StartTime       int64  `json:"start_time_epoch_sec,omitempty"`
	EndTime         int64  `json:"end_time_epoch_sec,omitempty"`
}

// CopyResult identifies the VoD object created by a copy.
type CopyResult struct {
	ObjectID   string `json:"object_id"`
	WriteToken string `json:"write_token,omitempty"`
}

// Object permission levels, from most to least restrictive.
const (
	PermissionOwner    = "owner"
	PermissionEditable = "editable"
	PermissionViewable = "viewable"
	PermissionListable = "listable"
	PermissionPublic   = "public"
)

// ValidPermission reports whether p is a known permission level.
func ValidPermission(p string) bool {
	switch p {
	case PermissionOwner, PermissionEditable, PermissionViewable, PermissionListable, PermissionPublic:
		return true
	}
	return false
}

// AccessGroup is a fabric permission group.
type AccessGroup struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// Request is a generic call forwarded verbatim to the fabric on behalf of an
// embedded frame.
type Request struct {
	Method string         `json:"calledMethod"`
	Args   map[string]any `json:"args,omitempty"`
}

// Client is the service's only collaborator for durable operations. All
// errors carry a human-readable message.
type Client interface {
	StreamStatus(ctx context.Context, libraryID, objectID string) (*StreamStatus, error)
	StreamOp(ctx context.Context, libraryID, objectID string, op Op) (*StreamStatus, error)
	ReadMetadata(ctx context.Context, libraryID, objectID, path string, out any) error
	WriteMetadata(ctx context.Context, libraryID, objectID, path string, value any) error
	DeleteMetadata(ctx context.Context, libraryID, objectID, path string) error
	CreateObject(ctx context.Context, libraryID string, meta map[string]any) (string, error)
	DeleteObject(ctx context.Context, libraryID, objectID string) error
	CopyToVoD(ctx context.Context, libraryID, objectID string, req CopyRequest) (*CopyResult, error)
	PreviewFrameURL(ctx context.Context, libraryID, objectID string) (string, error)
	ListAccessGroups(ctx context.Context) ([]AccessGroup, error)
	SetPermission(ctx context.Context, libraryID, objectID, permission string) error
	AddToAccessGroup(ctx context.Context, groupAddress, objectID string) error
	Execute(ctx context.Context, req Request) (any, error)

	// SetRegion routes subsequent calls to region; ResetRegion clears it.
	SetRegion(region string)
	ResetRegion()
	Region() string
}
