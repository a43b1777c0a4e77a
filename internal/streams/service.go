package streams

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"live-stream-manager/internal/fabric"
	"live-stream-manager/internal/platform/metrics"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency caps simultaneous fabric calls in bulk loads.
const DefaultConcurrency = 10

const (
	siteStreamsPath     = "public/asset_metadata/live_streams"
	recordingConfigPath = "live_recording_config"
	publicMetaPath      = "public"
)

var (
	// ErrInvalid wraps validation failures.
	ErrInvalid = errors.New("invalid request")

	// ErrActive is returned when removing a stream that still has a live session.
	ErrActive = errors.New("stream is active")

	// ErrNoRecording is returned when copying a stream that has no recording period.
	ErrNoRecording = errors.New("stream has no recording period")
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ServiceConfig holds the optional knobs of a Service.
type ServiceConfig struct {
	// SiteLibraryID and SiteObjectID locate the site object that lists streams.
	// When empty, Load only uses the seed and stream creation skips the site write.
	SiteLibraryID string
	SiteObjectID  string

	// Concurrency caps parallel status queries; <= 0 uses DefaultConcurrency.
	Concurrency int

	// Now defaults to time.Now.
	Now func() time.Time

	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// Service implements stream operations on top of a Repository and a fabric.Client.
type Service struct {
	repo   Repository
	client fabric.Client
	log    *slog.Logger
	cfg    ServiceConfig
}

// NewService returns a Service. A nil logger discards output.
func NewService(repo Repository, client fabric.Client, log *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, client: client, log: log, cfg: cfg}
}

// Repository returns the backing repository.
func (s *Service) Repository() Repository {
	return s.repo
}

// CreateRequest is the input of Create.
type CreateRequest struct {
	Slug        string `json:"slug"`
	LibraryID   string `json:"library_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	OriginURL   string `json:"origin_url"`
	Config      Config `json:"config"`

	// Permission and AccessGroup are applied to the new object when set.
	// Failures are logged and do not fail the creation.
	Permission  string `json:"permission,omitempty"`
	AccessGroup string `json:"access_group,omitempty"`
}

type siteEntry struct {
	ObjectID  string `json:"object_id"`
	LibraryID string `json:"library_id"`
	Title     string `json:"title"`
}

// Load fills the repository from the site object and then from seed. Both
// sources are best effort: a failed site read is logged and seed entries
// are still applied. Existing live fields are kept for known slugs.
func (s *Service) Load(ctx context.Context, seed []*Stream) {
	if s.cfg.SiteObjectID != "" {
		var entries map[string]siteEntry
		err := s.client.ReadMetadata(ctx, s.cfg.SiteLibraryID, s.cfg.SiteObjectID, siteStreamsPath, &entries)
		if err != nil {
			s.log.Warn("load site streams failed", slog.String("error", err.Error()))
		}
		for slug, e := range entries {
			s.merge(&Stream{
				Slug:      slug,
				ObjectID:  e.ObjectID,
				LibraryID: e.LibraryID,
				Title:     e.Title,
				Status:    StatusUninitialized,
				Config:    Config{DRM: DefaultDRM},
			})
		}
	}
	for _, st := range seed {
		s.merge(st)
	}
	s.log.Info("streams loaded", slog.Int("count", len(s.repo.List())))
}

func (s *Service) merge(st *Stream) {
	err := s.repo.Update(st.Slug, func(cur *Stream) {
		cur.ObjectID = st.ObjectID
		cur.LibraryID = st.LibraryID
		if st.Title != "" {
			cur.Title = st.Title
		}
	})
	if errors.Is(err, ErrNotFound) {
		s.repo.Put(st)
	}
}

// Create makes a new live stream object and registers it under req.Slug.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Stream, error) {
	if !slugPattern.MatchString(req.Slug) {
		return nil, fmt.Errorf("%w: slug %q must be lowercase letters, digits, '-' or '_'", ErrInvalid, req.Slug)
	}
	if req.LibraryID == "" {
		return nil, fmt.Errorf("%w: library_id is required", ErrInvalid)
	}
	if req.Config.DRM == "" {
		req.Config.DRM = DefaultDRM
	}
	if err := validateConfig(req.Config); err != nil {
		return nil, err
	}
	if req.Permission != "" && !fabric.ValidPermission(req.Permission) {
		return nil, fmt.Errorf("%w: unknown permission %q", ErrInvalid, req.Permission)
	}
	if _, exists := s.repo.Get(req.Slug); exists {
		return nil, ErrExists
	}

	title := req.Title
	if title == "" {
		title = req.Slug
	}
	meta := map[string]any{
		publicMetaPath: map[string]any{
			"name":        title,
			"description": req.Description,
		},
		recordingConfigPath: configMeta(req.Config, req.OriginURL),
	}
	objectID, err := s.client.CreateObject(ctx, req.LibraryID, meta)
	if err != nil {
		return nil, fmt.Errorf("create stream object: %w", err)
	}

	st := &Stream{
		Slug:        req.Slug,
		ObjectID:    objectID,
		LibraryID:   req.LibraryID,
		Title:       title,
		Description: req.Description,
		OriginURL:   req.OriginURL,
		Config:      req.Config,
		Status:      StatusUninitialized,
	}
	if err := s.repo.Insert(st); err != nil {
		return nil, err
	}

	s.applyAccess(ctx, req, objectID)

	if s.cfg.SiteObjectID != "" {
		entry := siteEntry{ObjectID: objectID, LibraryID: req.LibraryID, Title: title}
		if err := s.client.WriteMetadata(ctx, s.cfg.SiteLibraryID, s.cfg.SiteObjectID, siteStreamsPath+"/"+req.Slug, entry); err != nil {
			s.log.Warn("register stream on site failed",
				slog.String("slug", req.Slug),
				slog.String("error", err.Error()))
		}
	}

	s.log.Info("stream created", slog.String("slug", req.Slug), slog.String("object_id", objectID))
	return st, nil
}

func (s *Service) applyAccess(ctx context.Context, req CreateRequest, objectID string) {
	if req.Permission != "" {
		if err := s.client.SetPermission(ctx, req.LibraryID, objectID, req.Permission); err != nil {
			s.log.Warn("set stream permission failed",
				slog.String("slug", req.Slug),
				slog.String("permission", req.Permission),
				slog.String("error", err.Error()))
		}
	}
	if req.AccessGroup != "" {
		if err := s.client.AddToAccessGroup(ctx, req.AccessGroup, objectID); err != nil {
			s.log.Warn("add stream to access group failed",
				slog.String("slug", req.Slug),
				slog.String("group", req.AccessGroup),
				slog.String("error", err.Error()))
		}
	}
}

// Configure replaces the stream's DRM, retention, DVR and watermark settings.
func (s *Service) Configure(ctx context.Context, slug string, cfg Config) (*Stream, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	st, ok := s.repo.Get(slug)
	if !ok {
		return nil, ErrNotFound
	}
	if err := s.client.WriteMetadata(ctx, st.LibraryID, st.ObjectID, recordingConfigPath, configMeta(cfg, st.OriginURL)); err != nil {
		return nil, fmt.Errorf("write stream config: %w", err)
	}
	if err := s.repo.Update(slug, func(cur *Stream) { cur.Config = cfg }); err != nil {
		return nil, err
	}
	s.log.Info("stream configured", slog.String("slug", slug), slog.String("drm", cfg.DRM))
	updated, _ := s.repo.Get(slug)
	return updated, nil
}

// Operate runs a lifecycle operation and records the status it reports.
func (s *Service) Operate(ctx context.Context, slug string, op fabric.Op) (*Stream, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalid, op)
	}
	st, ok := s.repo.Get(slug)
	if !ok {
		return nil, ErrNotFound
	}
	status, err := s.client.StreamOp(ctx, st.LibraryID, st.ObjectID, op)
	if err != nil {
		return nil, fmt.Errorf("%s stream: %w", op, err)
	}
	if err := s.repo.ApplyStatus(slug, status, s.cfg.Now()); err != nil {
		return nil, err
	}
	s.log.Info("stream operation", slog.String("slug", slug), slog.String("op", string(op)), slog.String("state", status.State))
	updated, _ := s.repo.Get(slug)
	return updated, nil
}

// Remove deletes an inactive stream's object and forgets the slug.
func (s *Service) Remove(ctx context.Context, slug string) error {
	st, ok := s.repo.Get(slug)
	if !ok {
		return ErrNotFound
	}
	if st.Status.Active() {
		return fmt.Errorf("%w: stop and deactivate %q before removing it", ErrActive, slug)
	}
	if err := s.client.DeleteObject(ctx, st.LibraryID, st.ObjectID); err != nil && !errors.Is(err, fabric.ErrNotFound) {
		return fmt.Errorf("delete stream object: %w", err)
	}
	if s.cfg.SiteObjectID != "" {
		if err := s.client.DeleteMetadata(ctx, s.cfg.SiteLibraryID, s.cfg.SiteObjectID, siteStreamsPath+"/"+slug); err != nil {
			s.log.Warn("unregister stream from site failed", slog.String("slug", slug), slog.String("error", err.Error()))
		}
	}
	s.repo.Remove(slug)
	s.log.Info("stream removed", slog.String("slug", slug))
	return nil
}

// CopyToVoD copies the current recording period of a stream into a VoD object.
// Zero start or end times in req default to the recording period bounds.
func (s *Service) CopyToVoD(ctx context.Context, slug string, req fabric.CopyRequest) (*fabric.CopyResult, error) {
	st, ok := s.repo.Get(slug)
	if !ok {
		return nil, ErrNotFound
	}
	if st.RecordingPeriod == nil {
		return nil, ErrNoRecording
	}
	if req.TargetLibraryID == "" {
		req.TargetLibraryID = st.LibraryID
	}
	if req.Title == "" {
		req.Title = st.Title + " VoD"
	}
	if req.StartTime == 0 {
		req.StartTime = st.RecordingPeriod.StartTimeEpochSec
	}
	if req.EndTime == 0 {
		req.EndTime = st.RecordingPeriod.EndTimeEpochSec
	}
	if req.EndTime != 0 && req.EndTime < req.StartTime {
		return nil, fmt.Errorf("%w: end time before start time", ErrInvalid)
	}
	res, err := s.client.CopyToVoD(ctx, st.LibraryID, st.ObjectID, req)
	if err != nil {
		return nil, fmt.Errorf("copy to vod: %w", err)
	}
	s.log.Info("stream copied to vod", slog.String("slug", slug), slog.String("vod_object_id", res.ObjectID))
	return res, nil
}

// FetchStatuses queries the status of every known stream, at most
// cfg.Concurrency at a time. Failed queries are logged and left out of the
// result. Nothing is written to the repository.
func (s *Service) FetchStatuses(ctx context.Context) map[string]*fabric.StreamStatus {
	list := s.repo.List()
	results := make(map[string]*fabric.StreamStatus, len(list))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, st := range list {
		g.Go(func() error {
			status, err := s.client.StreamStatus(gctx, st.LibraryID, st.ObjectID)
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.ObserveStatusPoll(err)
			}
			if err != nil {
				s.log.Warn("stream status failed", slog.String("slug", st.Slug), slog.String("error", err.Error()))
				return nil
			}
			mu.Lock()
			results[st.Slug] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ApplyStatuses writes fetched statuses into the repository. Slugs removed
// since the fetch are skipped.
func (s *Service) ApplyStatuses(results map[string]*fabric.StreamStatus) {
	now := s.cfg.Now()
	for slug, status := range results {
		if err := s.repo.ApplyStatus(slug, status, now); err != nil && !errors.Is(err, ErrNotFound) {
			s.log.Warn("apply status failed", slog.String("slug", slug), slog.String("error", err.Error()))
		}
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SetActiveStreams(s.repo.ActiveCount())
	}
}

// RefreshStatuses fetches and applies every stream's status.
func (s *Service) RefreshStatuses(ctx context.Context) {
	s.ApplyStatuses(s.FetchStatuses(ctx))
}

// FetchPreview asks the fabric for a current preview frame URL of slug.
func (s *Service) FetchPreview(ctx context.Context, slug string) (string, error) {
	st, ok := s.repo.Get(slug)
	if !ok {
		return "", ErrNotFound
	}
	url, err := s.client.PreviewFrameURL(ctx, st.LibraryID, st.ObjectID)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObservePreviewFetch(err)
	}
	if err != nil {
		return "", fmt.Errorf("preview %s: %w", slug, err)
	}
	return url, nil
}

// AccessGroups lists fabric access groups. Failures are logged and yield nil.
func (s *Service) AccessGroups(ctx context.Context) []fabric.AccessGroup {
	groups, err := s.client.ListAccessGroups(ctx)
	if err != nil {
		s.log.Warn("list access groups failed", slog.String("error", err.Error()))
		return nil
	}
	return groups
}

func validateConfig(cfg Config) error {
	if !ValidDRM(cfg.DRM) {
		return fmt.Errorf("%w: unknown drm profile %q", ErrInvalid, cfg.DRM)
	}
	if cfg.RetentionSec < 0 {
		return fmt.Errorf("%w: retention must not be negative", ErrInvalid)
	}
	if cfg.DVR.MaxDurationSec < 0 {
		return fmt.Errorf("%w: dvr max duration must not be negative", ErrInvalid)
	}
	if !cfg.DVR.Enabled && (cfg.DVR.StartTime != nil || cfg.DVR.MaxDurationSec != 0) {
		return fmt.Errorf("%w: dvr window set while dvr is disabled", ErrInvalid)
	}
	if wm := cfg.Watermark; wm != nil && wm.Text == "" && wm.ImageURL == "" {
		return fmt.Errorf("%w: watermark needs text or image_url", ErrInvalid)
	}
	return nil
}

func configMeta(cfg Config, originURL string) map[string]any {
	playout := map[string]any{
		"drm":              cfg.DRM,
		"playout_formats":  drmProfiles[cfg.DRM],
		"dvr_enabled":      cfg.DVR.Enabled,
		"dvr_max_duration": cfg.DVR.MaxDurationSec,
	}
	if cfg.DVR.StartTime != nil {
		playout["dvr_start_time"] = cfg.DVR.StartTime.UTC().Format(time.RFC3339)
	}
	meta := map[string]any{
		"part_ttl":   cfg.RetentionSec,
		"playout":    playout,
		"origin_url": originURL,
	}
	if cfg.Watermark != nil {
		meta["watermark"] = map[string]any{
			"text":     cfg.Watermark.Text,
			"image":    cfg.Watermark.ImageURL,
			"position": cfg.Watermark.Position,
		}
	}
	return meta
}
