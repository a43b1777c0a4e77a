// Package fabrictest provides an in-memory fabric.Client for tests.
package fabrictest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"live-stream-manager/internal/fabric"
)

// Fake is a concurrency-safe in-memory fabric.Client. Statuses, metadata
// and previews are keyed by object ID. Setting an entry in Errors makes the
// named method fail (e.g. Errors["StreamStatus"]).
type Fake struct {
	mu sync.Mutex

	Statuses map[string]*fabric.StreamStatus
	Meta     map[string]map[string]any
	Previews map[string]string
	Groups   []fabric.AccessGroup
	Errors   map[string]error

	// ExecuteFunc handles Execute; nil echoes the request back.
	ExecuteFunc func(ctx context.Context, req fabric.Request) (any, error)

	// Permissions maps object ID to its permission level; GroupObjects
	// maps a group address to the objects added to it.
	Permissions  map[string]string
	GroupObjects map[string][]string

	Calls   map[string]int
	Ops     []fabric.Op
	Deleted []string
	nextID  int
	region  string
}

var _ fabric.Client = (*Fake)(nil)

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		Statuses: make(map[string]*fabric.StreamStatus),
		Meta:     make(map[string]map[string]any),
		Previews: make(map[string]string),
		Errors:   make(map[string]error),
		Calls:    make(map[string]int),

		Permissions:  make(map[string]string),
		GroupObjects: make(map[string][]string),
	}
}

// SetStatus sets the state reported for objectID.
func (f *Fake) SetStatus(objectID, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Statuses[objectID] = &fabric.StreamStatus{State: state}
}

// SetError makes method fail with err; nil clears it.
func (f *Fake) SetError(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Errors, method)
		return
	}
	f.Errors[method] = err
}

// CallCount returns how many times method was invoked.
func (f *Fake) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[method]
}

func (f *Fake) enter(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls[method]++
	return f.Errors[method]
}

// StreamStatus implements fabric.Client.
func (f *Fake) StreamStatus(ctx context.Context, libraryID, objectID string) (*fabric.StreamStatus, error) {
	if err := f.enter("StreamStatus"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.Statuses[objectID]
	if !ok {
		return &fabric.StreamStatus{State: "unconfigured"}, nil
	}
	cp := *st
	return &cp, nil
}

// StreamOp implements fabric.Client.
func (f *Fake) StreamOp(ctx context.Context, libraryID, objectID string, op fabric.Op) (*fabric.StreamStatus, error) {
	if err := f.enter("StreamOp"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ops = append(f.Ops, op)
	state := map[fabric.Op]string{
		fabric.OpStart:      "starting",
		fabric.OpStop:       "stopped",
		fabric.OpReset:      "starting",
		fabric.OpDeactivate: "inactive",
	}[op]
	f.Statuses[objectID] = &fabric.StreamStatus{State: state}
	return &fabric.StreamStatus{State: state}, nil
}

// ReadMetadata implements fabric.Client. The stored value is copied into
// out through JSON.
func (f *Fake) ReadMetadata(ctx context.Context, libraryID, objectID, path string, out any) error {
	if err := f.enter("ReadMetadata"); err != nil {
		return err
	}
	f.mu.Lock()
	v, ok := f.Meta[objectID][strings.Trim(path, "/")]
	f.mu.Unlock()
	if !ok {
		return &fabric.Error{Op: "read metadata", StatusCode: http.StatusNotFound, Msg: "not found"}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// WriteMetadata implements fabric.Client.
func (f *Fake) WriteMetadata(ctx context.Context, libraryID, objectID, path string, value any) error {
	if err := f.enter("WriteMetadata"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Meta[objectID] == nil {
		f.Meta[objectID] = make(map[string]any)
	}
	f.Meta[objectID][strings.Trim(path, "/")] = value
	return nil
}

// DeleteMetadata implements fabric.Client.
func (f *Fake) DeleteMetadata(ctx context.Context, libraryID, objectID, path string) error {
	if err := f.enter("DeleteMetadata"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Meta[objectID], strings.Trim(path, "/"))
	return nil
}

// CreateObject implements fabric.Client.
func (f *Fake) CreateObject(ctx context.Context, libraryID string, meta map[string]any) (string, error) {
	if err := f.enter("CreateObject"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("iq__fake%d", f.nextID)
	f.Meta[id] = make(map[string]any, len(meta))
	for k, v := range meta {
		f.Meta[id][k] = v
	}
	return id, nil
}

// DeleteObject implements fabric.Client.
func (f *Fake) DeleteObject(ctx context.Context, libraryID, objectID string) error {
	if err := f.enter("DeleteObject"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted = append(f.Deleted, objectID)
	delete(f.Meta, objectID)
	delete(f.Statuses, objectID)
	return nil
}

// CopyToVoD implements fabric.Client.
func (f *Fake) CopyToVoD(ctx context.Context, libraryID, objectID string, req fabric.CopyRequest) (*fabric.CopyResult, error) {
	if err := f.enter("CopyToVoD"); err != nil {
		return nil, err
	}
	return &fabric.CopyResult{ObjectID: "iq__vod_" + objectID}, nil
}

// PreviewFrameURL implements fabric.Client.
func (f *Fake) PreviewFrameURL(ctx context.Context, libraryID, objectID string) (string, error) {
	if err := f.enter("PreviewFrameURL"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.Previews[objectID]; ok {
		return u, nil
	}
	return "https://fabric.test/" + objectID + "/frame.jpg", nil
}

// ListAccessGroups implements fabric.Client.
func (f *Fake) ListAccessGroups(ctx context.Context) ([]fabric.AccessGroup, error) {
	if err := f.enter("ListAccessGroups"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fabric.AccessGroup(nil), f.Groups...), nil
}

// SetPermission implements fabric.Client.
func (f *Fake) SetPermission(ctx context.Context, libraryID, objectID, permission string) error {
	if err := f.enter("SetPermission"); err != nil {
		return err
	}
	if !fabric.ValidPermission(permission) {
		return &fabric.Error{Op: "set permission", StatusCode: http.StatusBadRequest, Msg: "unknown permission " + permission}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Permissions[objectID] = permission
	return nil
}

// AddToAccessGroup implements fabric.Client.
func (f *Fake) AddToAccessGroup(ctx context.Context, groupAddress, objectID string) error {
	if err := f.enter("AddToAccessGroup"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GroupObjects[groupAddress] = append(f.GroupObjects[groupAddress], objectID)
	return nil
}

// Execute implements fabric.Client.
func (f *Fake) Execute(ctx context.Context, req fabric.Request) (any, error) {
	if err := f.enter("Execute"); err != nil {
		return nil, err
	}
	switch req.Method {
	case fabric.MethodUseRegion:
		region, _ := req.Args["region"].(string)
		f.SetRegion(region)
		return map[string]any{"region": region}, nil
	case fabric.MethodResetRegion:
		f.ResetRegion()
		return map[string]any{"region": ""}, nil
	}
	f.mu.Lock()
	fn := f.ExecuteFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return map[string]any{"method": req.Method, "args": req.Args}, nil
}

// SetRegion implements fabric.Client.
func (f *Fake) SetRegion(region string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.region = region
}

// ResetRegion implements fabric.Client.
func (f *Fake) ResetRegion() {
	f.SetRegion("")
}

// Region implements fabric.Client.
func (f *Fake) Region() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.region
}
