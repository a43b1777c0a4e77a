package streams

import (
	"sort"
	"time"

	"live-stream-manager/internal/fabric"
)

// Status is the last observed lifecycle state of a stream. The set is closed;
// transitions are owned by the fabric and only reflected here.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusUnconfigured  Status = "unconfigured"
	StatusInactive      Status = "inactive"
	StatusStarting      Status = "starting"
	StatusRunning       Status = "running"
	StatusStalled       Status = "stalled"
	StatusStopped       Status = "stopped"
	StatusTerminating   Status = "terminating"
)

var statusLabels = map[Status]string{
	StatusUninitialized: "Uninitialized",
	StatusUnconfigured:  "Not Configured",
	StatusInactive:      "Inactive",
	StatusStarting:      "Starting",
	StatusRunning:       "Running",
	StatusStalled:       "Stalled",
	StatusStopped:       "Stopped",
	StatusTerminating:   "Terminating",
}

// Valid reports whether s is a member of the status enumeration.
func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Active reports whether the stream has a live session: starting, running,
// stalled or stopped.
func (s Status) Active() bool {
	switch s {
	case StatusStarting, StatusRunning, StatusStalled, StatusStopped:
		return true
	}
	return false
}

// Label is the operator-facing name of the status.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return "Unknown"
}

// DVR configures the seekable window of a live stream.
type DVR struct {
	Enabled        bool       `json:"enabled" yaml:"enabled"`
	StartTime      *time.Time `json:"start_time,omitempty" yaml:"start_time,omitempty"`
	MaxDurationSec int        `json:"max_duration_sec,omitempty" yaml:"max_duration_sec,omitempty"`
}

// Watermark is overlaid on playout. Either Text or ImageURL is set.
type Watermark struct {
	Text     string `json:"text,omitempty" yaml:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	Position string `json:"position,omitempty" yaml:"position,omitempty"`
}

// Config is the operator-editable part of a stream.
type Config struct {
	DRM          string     `json:"drm" yaml:"drm"`
	RetentionSec int        `json:"retention_sec" yaml:"retention_sec"`
	DVR          DVR        `json:"dvr" yaml:"dvr"`
	Watermark    *Watermark `json:"watermark,omitempty" yaml:"watermark,omitempty"`
}

// Stream is one entry in the stream list, keyed by its slug.
type Stream struct {
	Slug        string `json:"slug" yaml:"slug"`
	ObjectID    string `json:"object_id" yaml:"object_id"`
	LibraryID   string `json:"library_id" yaml:"library_id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	OriginURL   string `json:"origin_url,omitempty" yaml:"origin_url,omitempty"`
	Config      Config `json:"config" yaml:"config"`

	Status          Status                  `json:"status" yaml:"-"`
	Quality         string                  `json:"quality,omitempty" yaml:"-"`
	Warnings        []string                `json:"warnings,omitempty" yaml:"-"`
	RecordingPeriod *fabric.RecordingPeriod `json:"recording_period,omitempty" yaml:"-"`
	PlayoutURLs     map[string]string       `json:"playout_urls,omitempty" yaml:"-"`
	StatusCheckedAt time.Time               `json:"status_checked_at,omitempty" yaml:"-"`

	PreviewURL       string    `json:"preview_url,omitempty" yaml:"-"`
	PreviewFetchedAt time.Time `json:"preview_fetched_at,omitempty" yaml:"-"`
}

// Clone returns a deep copy so callers never share slices or pointers with
// the repository.
func (s *Stream) Clone() *Stream {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Warnings != nil {
		cp.Warnings = append([]string(nil), s.Warnings...)
	}
	if s.RecordingPeriod != nil {
		rp := *s.RecordingPeriod
		cp.RecordingPeriod = &rp
	}
	if s.PlayoutURLs != nil {
		cp.PlayoutURLs = make(map[string]string, len(s.PlayoutURLs))
		for k, v := range s.PlayoutURLs {
			cp.PlayoutURLs[k] = v
		}
	}
	if s.Config.Watermark != nil {
		wm := *s.Config.Watermark
		cp.Config.Watermark = &wm
	}
	if s.Config.DVR.StartTime != nil {
		st := *s.Config.DVR.StartTime
		cp.Config.DVR.StartTime = &st
	}
	return &cp
}

// DRMProfile is a named bundle of playout formats.
type DRMProfile struct {
	Name    string   `json:"name"`
	Formats []string `json:"formats"`
}

// DefaultDRM is applied when a stream is created without a profile.
const DefaultDRM = "clear"

var drmProfiles = map[string][]string{
	"clear":        {"hls-clear", "dash-clear"},
	"drm-public":   {"hls-aes128", "hls-sample-aes"},
	"drm-fairplay": {"hls-fairplay"},
	"drm-all":      {"hls-aes128", "hls-sample-aes", "hls-fairplay", "dash-widevine", "hls-playready"},
}

// ValidDRM reports whether name is a known DRM profile.
func ValidDRM(name string) bool {
	_, ok := drmProfiles[name]
	return ok
}

// DRMProfiles lists the known profiles sorted by name.
func DRMProfiles() []DRMProfile {
	out := make([]DRMProfile, 0, len(drmProfiles))
	for name, formats := range drmProfiles {
		out = append(out, DRMProfile{Name: name, Formats: append([]string(nil), formats...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
