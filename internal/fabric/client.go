// Package fabric is the client for the remote content fabric that owns
// stream objects, metadata, and the live stream lifecycle.
package fabric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTimeout  = 30 * time.Second
	regionHeader    = "X-Fabric-Region"
	requestIDHeader = "X-Request-ID"
)

// HTTPClient talks to the fabric's JSON HTTP API.
type HTTPClient struct {
	baseURL string
	token   string
	hc      *http.Client

	mu     sync.RWMutex
	region string
}

// NewHTTPClient returns a client for the fabric at baseURL, authenticating
// with token. A nil hc uses an http.Client with a 30s timeout.
func NewHTTPClient(baseURL, token string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      hc,
	}
}

var _ Client = (*HTTPClient)(nil)

// SetRegion implements Client.SetRegion.
func (c *HTTPClient) SetRegion(region string) {
	c.mu.Lock()
	c.region = region
	c.mu.Unlock()
}

// ResetRegion implements Client.ResetRegion.
func (c *HTTPClient) ResetRegion() {
	c.SetRegion("")
}

// Region implements Client.Region.
func (c *HTTPClient) Region() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.region
}

// StreamStatus implements Client.StreamStatus.
func (c *HTTPClient) StreamStatus(ctx context.Context, libraryID, objectID string) (*StreamStatus, error) {
	var st StreamStatus
	if err := c.do(ctx, "status", http.MethodGet, objectPath(libraryID, objectID, "call/live/status"), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// StreamOp implements Client.StreamOp.
func (c *HTTPClient) StreamOp(ctx context.Context, libraryID, objectID string, op Op) (*StreamStatus, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("fabric: unknown stream op %q", op)
	}
	var st StreamStatus
	if err := c.do(ctx, string(op), http.MethodPost, objectPath(libraryID, objectID, "call/live/"+string(op)), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ReadMetadata implements Client.ReadMetadata.
func (c *HTTPClient) ReadMetadata(ctx context.Context, libraryID, objectID, path string, out any) error {
	return c.do(ctx, "read metadata", http.MethodGet, metaPath(libraryID, objectID, path), nil, out)
}

// WriteMetadata implements Client.WriteMetadata.
func (c *HTTPClient) WriteMetadata(ctx context.Context, libraryID, objectID, path string, value any) error {
	return c.do(ctx, "write metadata", http.MethodPut, metaPath(libraryID, objectID, path), value, nil)
}

// DeleteMetadata implements Client.DeleteMetadata.
func (c *HTTPClient) DeleteMetadata(ctx context.Context, libraryID, objectID, path string) error {
	return c.do(ctx, "delete metadata", http.MethodDelete, metaPath(libraryID, objectID, path), nil, nil)
}

// CreateObject implements Client.CreateObject.
func (c *HTTPClient) CreateObject(ctx context.Context, libraryID string, meta map[string]any) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]any{"meta": meta}
	if err := c.do(ctx, "create object", http.MethodPost, "/qlibs/"+url.PathEscape(libraryID)+"/q", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// DeleteObject implements Client.DeleteObject.
func (c *HTTPClient) DeleteObject(ctx context.Context, libraryID, objectID string) error {
	return c.do(ctx, "delete object", http.MethodDelete, objectPath(libraryID, objectID, ""), nil, nil)
}

// CopyToVoD implements Client.CopyToVoD.
func (c *HTTPClient) CopyToVoD(ctx context.Context, libraryID, objectID string, req CopyRequest) (*CopyResult, error) {
	var out CopyResult
	if err := c.do(ctx, "copy to vod", http.MethodPost, objectPath(libraryID, objectID, "call/live/copy_to_vod"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PreviewFrameURL implements Client.PreviewFrameURL.
func (c *HTTPClient) PreviewFrameURL(ctx context.Context, libraryID, objectID string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, "preview", http.MethodGet, objectPath(libraryID, objectID, "call/live/preview"), nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// ListAccessGroups implements Client.ListAccessGroups.
func (c *HTTPClient) ListAccessGroups(ctx context.Context) ([]AccessGroup, error) {
	var out []AccessGroup
	if err := c.do(ctx, "list groups", http.MethodGet, "/groups", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetPermission implements Client.SetPermission.
func (c *HTTPClient) SetPermission(ctx context.Context, libraryID, objectID, permission string) error {
	if !ValidPermission(permission) {
		return fmt.Errorf("fabric: unknown permission %q", permission)
	}
	body := map[string]string{"permission": permission}
	return c.do(ctx, "set permission", http.MethodPut, objectPath(libraryID, objectID, "permission"), body, nil)
}

// AddToAccessGroup implements Client.AddToAccessGroup.
func (c *HTTPClient) AddToAccessGroup(ctx context.Context, groupAddress, objectID string) error {
	body := map[string]string{"object_id": objectID}
	return c.do(ctx, "add to group", http.MethodPost, "/groups/"+url.PathEscape(groupAddress)+"/objects", body, nil)
}

// Methods handled by the client itself rather than the fabric.
const (
	MethodUseRegion   = "UseRegion"
	MethodResetRegion = "ResetRegion"
)

// Execute implements Client.Execute. Region methods only change the
// client's routing override.
func (c *HTTPClient) Execute(ctx context.Context, req Request) (any, error) {
	switch req.Method {
	case "":
		return nil, fmt.Errorf("fabric: request has no method")
	case MethodUseRegion:
		region, _ := req.Args["region"].(string)
		if region == "" {
			return nil, fmt.Errorf("fabric: %s needs a region", MethodUseRegion)
		}
		c.SetRegion(region)
		return map[string]any{"region": region}, nil
	case MethodResetRegion:
		c.ResetRegion()
		return map[string]any{"region": ""}, nil
	}
	var out any
	if err := c.do(ctx, req.Method, http.MethodPost, "/call/"+url.PathEscape(req.Method), req.Args, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("fabric %s: encode: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("fabric %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if region := c.Region(); region != "" {
		req.Header.Set(regionHeader, region)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("fabric %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fe := &Error{Op: op, StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, fe) != nil && len(raw) > 0 {
			fe.Msg = strings.TrimSpace(string(raw))
		}
		return fe
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("fabric %s: decode: %w", op, err)
	}
	return nil
}

func objectPath(libraryID, objectID, suffix string) string {
	p := "/qlibs/" + url.PathEscape(libraryID) + "/q/" + url.PathEscape(objectID)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func metaPath(libraryID, objectID, path string) string {
	return objectPath(libraryID, objectID, "meta/"+strings.TrimLeft(path, "/"))
}
