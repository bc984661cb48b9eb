// Package artifacts runs the bundling pipeline for chat artifacts: it
// validates and authorizes a request, serves it from the bundle cache when
// possible, otherwise resolves, assembles and uploads a fresh document and
// returns a signed URL for it.
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/artifacts/internal/auth"
	"github.com/fluxbase-eu/artifacts/internal/bundlecache"
	"github.com/fluxbase-eu/artifacts/internal/catalog"
	"github.com/fluxbase-eu/artifacts/internal/config"
	"github.com/fluxbase-eu/artifacts/internal/observability"
	"github.com/fluxbase-eu/artifacts/internal/ratelimit"
	"github.com/fluxbase-eu/artifacts/internal/resolver"
	"github.com/fluxbase-eu/artifacts/internal/storage"
)

// Pipeline stages, in order
const (
	StageValidate   = "validate"
	StageCacheCheck = "cache-check"
	StageFetch      = "fetch"
	StageBundle     = "bundle"
	StageUpload     = "upload"
)

var stagePercent = map[string]int{
	StageValidate:   10,
	StageCacheCheck: 25,
	StageFetch:      45,
	StageBundle:     70,
	StageUpload:     90,
}

// Progress is a coarse stage milestone
type Progress struct {
	Stage     string `json:"stage"`
	Percent   int    `json:"percent"`
	RequestID string `json:"requestId"`
}

// EmitFunc receives progress milestones as stages start
type EmitFunc func(Progress)

// Caller carries request context that is not part of the payload
type Caller struct {
	// Token is the bearer token, empty for anonymous callers
	Token     string
	IP        string
	RequestID string
}

// Result is a successful bundle response
type Result struct {
	Success      bool      `json:"success"`
	BundleURL    string    `json:"bundleUrl"`
	BundleSize   int64     `json:"bundleSize"`
	BundleTime   int64     `json:"bundleTime"`
	Dependencies []string  `json:"dependencies"`
	ExpiresAt    time.Time `json:"expiresAt"`
	RequestID    string    `json:"requestId"`
	CacheHit     bool      `json:"cacheHit"`
}

// TokenVerifier validates bearer tokens
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Config tunes the service
type Config struct {
	Bucket           string
	SignedURLTTL     time.Duration
	RequireOwnership bool
	UserMax          int64
	GuestMax         int64
	Window           time.Duration
	UploadTimeout    time.Duration
	// UploadRetries is the number of retries after the first attempt
	UploadRetries   int
	UploadBaseDelay time.Duration
	Tailwind        bool
	// PrimaryHost defaults to the resolver's primary provider host
	PrimaryHost   string
	RecordTimeout time.Duration
}

// ConfigFrom extracts service settings from the application config
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Bucket:           cfg.Bundler.Bucket,
		SignedURLTTL:     cfg.Bundler.SignedURLTTL,
		RequireOwnership: cfg.Auth.RequireOwnership,
		UserMax:          int64(cfg.RateLimit.UserMax),
		GuestMax:         int64(cfg.RateLimit.GuestMax),
		Window:           cfg.RateLimit.Window,
		UploadTimeout:    cfg.Storage.UploadTimeout,
		UploadRetries:    cfg.Storage.UploadRetries,
		UploadBaseDelay:  cfg.Storage.UploadBaseDelay,
		Tailwind:         cfg.Bundler.Tailwind,
	}
}

// Dependencies are the collaborators of a Service. Resolver and Storage are
// required; every other field may be nil to disable its feature.
type Dependencies struct {
	Resolver  *resolver.Resolver
	Storage   storage.Storage
	Cache     *bundlecache.Cache
	Limits    ratelimit.Store
	Tokens    TokenVerifier
	Ownership auth.OwnershipStore
	Metrics   *observability.Metrics
	Recorder  Recorder
}

// Service runs bundle requests
type Service struct {
	cfg       Config
	resolver  *resolver.Resolver
	storage   storage.Storage
	cache     *bundlecache.Cache
	limits    ratelimit.Store
	tokens    TokenVerifier
	ownership auth.OwnershipStore
	metrics   *observability.Metrics
	recorder  Recorder
	// setup is folded into every cache key
	setup string
	now   func() time.Time
}

// NewService creates a bundling service
func NewService(cfg Config, deps Dependencies) (*Service, error) {
	if deps.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if deps.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 14 * 24 * time.Hour
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Hour
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 30 * time.Second
	}
	if cfg.UploadBaseDelay <= 0 {
		cfg.UploadBaseDelay = 250 * time.Millisecond
	}
	if cfg.PrimaryHost == "" {
		cfg.PrimaryHost = deps.Resolver.PrimaryHost()
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = 5 * time.Second
	}

	if deps.Cache != nil && deps.Metrics != nil {
		deps.Cache.OnLookup(deps.Metrics.RecordCacheLookup)
	}

	return &Service{
		cfg:       cfg,
		resolver:  deps.Resolver,
		storage:   deps.Storage,
		cache:     deps.Cache,
		limits:    deps.Limits,
		tokens:    deps.Tokens,
		ownership: deps.Ownership,
		metrics:   deps.Metrics,
		recorder:  deps.Recorder,
		setup:     KeySetup(deps.Resolver, cfg.Tailwind, cfg.PrimaryHost),
		now:       time.Now,
	}, nil
}

// StoragePath is the object key of an artifact's bundle document
func StoragePath(sessionID, artifactID string) string {
	return fmt.Sprintf("%s/%s/bundle.html", sessionID, artifactID)
}

// Bundle runs the pipeline for req. emit, when set, is called as each stage
// starts. Errors are *BundleError values.
func (s *Service) Bundle(ctx context.Context, req *Request, caller Caller, emit EmitFunc) (res *Result, err error) {
	start := s.now()
	progress := func(stage string) {
		if emit != nil {
			emit(Progress{Stage: stage, Percent: stagePercent[stage], RequestID: caller.RequestID})
		}
	}

	ctx, span := observability.StartBundleSpan(ctx, observability.BundleSpanConfig{
		RequestID:       caller.RequestID,
		ArtifactID:      req.ArtifactID,
		SessionID:       req.SessionID,
		Dependencies:    len(req.Dependencies),
		UseFrameworkEsm: req.BundleReact,
		Streaming:       req.Streaming,
	})

	rec := BundleRecord{
		RequestID:       caller.RequestID,
		ArtifactID:      req.ArtifactID,
		SessionID:       req.SessionID,
		UseFrameworkEsm: req.BundleReact,
		Streaming:       req.Streaming,
		DependencyCount: len(req.Dependencies),
	}
	defer func() {
		observability.EndSpan(span, err)
		rec.Duration = s.now().Sub(start)
		rec.CreatedAt = start
		if err != nil {
			rec.Outcome = string(AsBundleError(err).Kind)
		} else {
			rec.Outcome = "success"
			rec.CacheHit = res.CacheHit
			rec.Size = res.BundleSize
		}
		s.finish(ctx, rec, err)
	}()

	progress(StageValidate)
	if verr := req.Validate(); verr != nil {
		return nil, validationError(verr)
	}

	userID, err := s.authorize(ctx, req, caller)
	if err != nil {
		return nil, err
	}
	rec.UserID = userID
	observability.SetUser(ctx, userID)

	if err := s.checkRateLimit(ctx, userID, caller.IP); err != nil {
		return nil, err
	}

	hash := bundlecache.ComputeKey(req.Code, req.Dependencies, req.BundleReact, req.Title, s.setup)
	rec.Hash = hash

	progress(StageCacheCheck)
	if hit := s.lookup(ctx, hash); hit != nil {
		size := int64(0)
		if hit.Entry != nil {
			size = hit.Entry.Size
		}
		return &Result{
			Success:      true,
			BundleURL:    hit.URL,
			BundleSize:   size,
			BundleTime:   s.now().Sub(start).Milliseconds(),
			Dependencies: catalog.SortedPackages(req.Dependencies),
			ExpiresAt:    hit.ExpiresAt,
			RequestID:    caller.RequestID,
			CacheHit:     true,
		}, nil
	}

	progress(StageFetch)
	var resolution *resolver.Resolution
	err = s.runStage(ctx, StageFetch, func(ctx context.Context) error {
		var rerr error
		resolution, rerr = s.resolver.Resolve(ctx, req.Dependencies, req.BundleReact, resolver.NamedImports(req.Code))
		return rerr
	})
	if err != nil {
		return nil, internalError(err)
	}

	progress(StageBundle)
	var html string
	_ = s.runStage(ctx, StageBundle, func(ctx context.Context) error {
		html = s.build(ctx, req, resolution)
		return nil
	})

	progress(StageUpload)
	path := StoragePath(req.SessionID, req.ArtifactID)
	var signed *storage.SignedURL
	err = s.runStage(ctx, StageUpload, func(ctx context.Context) error {
		if uerr := s.upload(ctx, path, []byte(html), hash, caller.RequestID); uerr != nil {
			return uerr
		}
		var serr error
		signed, serr = s.storage.GenerateSignedURL(ctx, s.cfg.Bucket, path, &storage.SignedURLOptions{ExpiresIn: s.cfg.SignedURLTTL})
		if serr != nil {
			return internalError(fmt.Errorf("failed to sign bundle url: %w", serr))
		}
		return nil
	})
	if err != nil {
		return nil, AsBundleError(err)
	}

	size := int64(len(html))
	if s.cache != nil {
		s.cache.StoreAsync(ctx, hash, path, signed.URL, signed.ExpiresAt, size, len(req.Dependencies))
	}

	return &Result{
		Success:      true,
		BundleURL:    signed.URL,
		BundleSize:   size,
		BundleTime:   s.now().Sub(start).Milliseconds(),
		Dependencies: resolution.Dependencies,
		ExpiresAt:    signed.ExpiresAt,
		RequestID:    caller.RequestID,
	}, nil
}

// authorize returns the authenticated user, or "" for guests
func (s *Service) authorize(ctx context.Context, req *Request, caller Caller) (string, error) {
	if req.IsGuest {
		return "", nil
	}
	if s.tokens == nil {
		return "", unauthorizedError(auth.ErrMissingToken)
	}

	claims, err := s.tokens.Verify(caller.Token)
	if err != nil {
		return "", unauthorizedError(err)
	}
	userID := claims.UserID()
	if !s.cfg.RequireOwnership || s.ownership == nil {
		return userID, nil
	}

	owner, err := s.ownership.SessionOwner(ctx, req.SessionID)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		return "", forbiddenError("Chat session not found")
	case err != nil:
		return "", internalError(fmt.Errorf("failed to verify session ownership: %w", err))
	case owner != userID:
		return "", forbiddenError("Chat session belongs to another user")
	}

	session, err := s.ownership.ArtifactSession(ctx, req.ArtifactID)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		// first bundle of a new artifact
	case err != nil:
		return "", internalError(fmt.Errorf("failed to verify artifact ownership: %w", err))
	case !strings.EqualFold(session, req.SessionID):
		return "", forbiddenError("Artifact belongs to another chat session")
	}

	return userID, nil
}

func (s *Service) checkRateLimit(ctx context.Context, userID, ip string) error {
	if s.limits == nil {
		return nil
	}

	quotas := ratelimit.Quotas{User: s.cfg.UserMax, Guest: s.cfg.GuestMax, Window: s.cfg.Window}
	res, err := quotas.Check(ctx, s.limits, userID, ip)
	if err != nil {
		_, key := quotas.Key(userID, ip)
		log.Warn().Err(err).Str("key", key).Msg("Rate limit check failed, allowing request")
		return nil
	}
	if res.Allowed {
		return nil
	}

	if s.metrics != nil {
		s.metrics.RecordRateLimitHit(res.Kind)
	}
	return rateLimitedError(int(math.Ceil(res.RetryAfter().Seconds())))
}

// lookup returns a cache hit or nil. Cache failures degrade to a miss.
func (s *Service) lookup(ctx context.Context, hash string) *bundlecache.LookupResult {
	if s.cache == nil {
		return nil
	}

	var hit *bundlecache.LookupResult
	_ = s.runStage(ctx, StageCacheCheck, func(ctx context.Context) error {
		res, err := s.cache.Lookup(ctx, hash)
		if err != nil {
			log.Warn().Err(err).Str("hash", hash).Msg("Bundle cache lookup failed, treating as miss")
			return nil
		}
		if res.Hit {
			hit = res
		}
		return nil
	})
	return hit
}

// build produces the final document. It never fails; a component that does
// not transpile is embedded as-is and reported at mount time.
func (s *Service) build(ctx context.Context, req *Request, resolution *resolver.Resolution) string {
	html, terr := buildDocument(s.resolver, resolution, RenderOptions{
		Code:            req.Code,
		Dependencies:    req.Dependencies,
		Title:           req.Title,
		UseFrameworkEsm: req.BundleReact,
		Tailwind:        s.cfg.Tailwind,
	}, s.cfg.PrimaryHost)
	if terr != nil {
		observability.AddSpanEvent(ctx, "transpile.failed")
		log.Warn().Err(terr).Str("artifact_id", req.ArtifactID).Msg("Component did not transpile, embedding source")
	}
	return html
}

// upload writes the document, retrying transient failures with exponential
// backoff. Permanent failures end the loop at once.
func (s *Service) upload(ctx context.Context, path string, html []byte, hash, requestID string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.UploadBaseDelay
	b.MaxInterval = 16 * s.cfg.UploadBaseDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.UploadRetries)), ctx)

	attempt := 0
	op := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.UploadTimeout)
		defer cancel()

		storageCtx, span := observability.StartStorageSpan(attemptCtx, "upload", s.cfg.Bucket, path)
		started := time.Now()
		_, err := s.storage.Upload(storageCtx, s.cfg.Bucket, path, bytes.NewReader(html), int64(len(html)), &storage.UploadOptions{
			ContentType:  "text/html; charset=utf-8",
			CacheControl: "private, max-age=3600",
			Metadata: map[string]string{
				"bundle-hash": hash,
				"request-id":  requestID,
			},
		})
		observability.EndSpan(span, err)

		if s.metrics != nil {
			written := int64(len(html))
			if err != nil {
				written = 0
			}
			s.metrics.RecordStorageOperation("upload", s.cfg.Bucket, written, time.Since(started), err)
		}

		if err == nil {
			return nil
		}
		if storage.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		log.Warn().Err(err).Int("attempt", attempt).Str("path", path).Msg("Bundle upload failed")
		return err
	}

	err := backoff.Retry(op, policy)
	switch {
	case err == nil:
		return nil
	case storage.IsPermanent(err):
		return internalError(fmt.Errorf("bundle upload rejected: %w", err))
	default:
		return unavailableError(fmt.Errorf("bundle upload failed after %d attempts: %w", attempt, err))
	}
}

// runStage times fn under a stage span
func (s *Service) runStage(ctx context.Context, stage string, fn func(context.Context) error) error {
	ctx, span := observability.StartStageSpan(ctx, stage)
	started := time.Now()
	err := fn(ctx)
	if s.metrics != nil {
		s.metrics.RecordStage(stage, time.Since(started))
	}
	observability.EndSpan(span, err)
	return err
}

// finish logs the outcome and records metrics. The database row is written
// in the background and outlives ctx.
func (s *Service) finish(ctx context.Context, rec BundleRecord, err error) {
	if s.metrics != nil {
		s.metrics.RecordBundle(rec.Outcome, rec.UseFrameworkEsm, rec.CacheHit, rec.Duration, rec.Size, rec.DependencyCount)
	}

	if err != nil {
		be := AsBundleError(err)
		evt := log.Warn()
		if be.Kind == KindInternal || be.Kind == KindUnavailable {
			evt = log.Error()
		}
		evt.Err(be).
			Str("request_id", rec.RequestID).
			Str("artifact_id", rec.ArtifactID).
			Str("kind", string(be.Kind)).
			Dur("duration", rec.Duration).
			Msg("Bundle request failed")
	} else {
		log.Info().
			Str("request_id", rec.RequestID).
			Str("artifact_id", rec.ArtifactID).
			Bool("cache_hit", rec.CacheHit).
			Int64("size", rec.Size).
			Int("dependencies", rec.DependencyCount).
			Dur("duration", rec.Duration).
			Msg("Bundle completed")
	}

	if s.recorder == nil {
		return
	}
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RecordTimeout)
	go func() {
		defer cancel()
		if rerr := s.recorder.Record(bg, rec); rerr != nil {
			log.Warn().Err(rerr).Str("request_id", rec.RequestID).Msg("Failed to record bundle metrics")
		}
	}()
}
