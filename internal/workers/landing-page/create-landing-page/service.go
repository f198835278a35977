package createlandingpage

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"dynamic-site-maker/internal/common/errors"
	"dynamic-site-maker/internal/common/logger"
	"dynamic-site-maker/internal/common/media"
	"dynamic-site-maker/internal/common/metrics"
	"dynamic-site-maker/internal/common/notify"
	"dynamic-site-maker/internal/common/observability"
	"dynamic-site-maker/internal/common/pageindex"
	"dynamic-site-maker/internal/common/provisioning"
	"dynamic-site-maker/internal/common/throttle"
	"dynamic-site-maker/internal/common/validation"
	"dynamic-site-maker/internal/models"
	resolvesubmission "dynamic-site-maker/internal/workers/landing-page/resolve-submission"
	resolvetemplate "dynamic-site-maker/internal/workers/landing-page/resolve-template"
	transformtemplate "dynamic-site-maker/internal/workers/landing-page/transform-template"

	"go.opentelemetry.io/otel/attribute"
)

// ContentStore is the part of the content store page creation writes to.
type ContentStore interface {
	UniqueSlug(ctx context.Context, name string) (string, error)
	CreatePage(ctx context.Context, title, slug string, authorID int64) (int64, error)
	DeletePage(ctx context.Context, pageID int64) error
	SetMetas(ctx context.Context, pageID int64, meta map[string]string) error
	SetMeta(ctx context.Context, pageID int64, key, value string) error
	ClearRenderCache(ctx context.Context) error
}

type Throttler interface {
	Check(ctx context.Context, v throttle.Visitor) error
	MarkSubmitted(ctx context.Context, v throttle.Visitor) error
}

type Provisioner interface {
	Provision(ctx context.Context, req provisioning.Request) (*provisioning.Result, error)
}

type Uploader interface {
	ReceiveUpload(ctx context.Context, r io.Reader, filename string, size int64) (*media.Upload, error)
	RegisterAsMediaAsset(ctx context.Context, upload *media.Upload) (int64, error)
	Discard(upload *media.Upload)
	Remove(ctx context.Context, upload *media.Upload, mediaID int64) error
}

type PageIndex interface {
	Put(ctx context.Context, doc pageindex.Document) error
}

type Notifier interface {
	PageCreated(ctx context.Context, ev notify.PageEvent) notify.Result
}

type ServiceConfig struct {
	AuthorID         int64
	TitleFormat      string
	ElementorVersion string
	BaseURL          string
	TemplateID       *int
	RequireLogo      bool
}

// Deps are the collaborators of Service. Throttle, Provisioner, Uploader,
// Index, Notifier and Obs are optional.
type Deps struct {
	Store       ContentStore
	Submissions *resolvesubmission.Resolver
	Templates   *resolvetemplate.Resolver
	Throttle    Throttler
	Provisioner Provisioner
	Uploader    Uploader
	Index       PageIndex
	Notifier    Notifier
	Obs         *observability.Observability
}

// LogoFile is a logo sent with the submission.
type LogoFile struct {
	Reader   io.Reader
	Filename string
	Size     int64
}

type Request struct {
	Name          string
	Email         string
	AffiliateLink string
	Username      string
	LogoID        int64
	Logo          *LogoFile
	Visitor       throttle.Visitor
	Source        string // "api" or "worker", for metrics
}

type Result struct {
	PageID           int64          `json:"pageId"`
	Slug             string         `json:"slug"`
	URL              string         `json:"url"`
	Username         string         `json:"username,omitempty"`
	LogoID           int64          `json:"logoId"`
	HasCustomLogo    bool           `json:"hasCustomLogo"`
	TemplateID       int64          `json:"templateId"`
	FallbackTemplate bool           `json:"fallbackTemplate"`
	Rewrites         map[string]int `json:"rewrites"`
}

// Service runs the landing page creation pipeline.
type Service struct {
	config ServiceConfig
	deps   Deps
	logger logger.Logger
}

func NewService(config ServiceConfig, deps Deps, log logger.Logger) (*Service, error) {
	if deps.Store == nil || deps.Submissions == nil || deps.Templates == nil {
		return nil, fmt.Errorf("create landing page requires a content store and both resolvers")
	}
	if config.TitleFormat == "" {
		config.TitleFormat = "%s's Landing Page"
	}
	if config.AuthorID <= 0 {
		config.AuthorID = 1
	}
	return &Service{config: config, deps: deps, logger: log}, nil
}

// Validate checks the submission fields before anything is written.
func Validate(req *Request, requireLogo bool) error {
	req.Name = validation.SanitizeText(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.AffiliateLink = strings.TrimSpace(req.AffiliateLink)
	req.Username = validation.SanitizeText(req.Username)

	switch {
	case req.Name == "":
		return errors.NewValidationError("name", "Please enter your name.")
	case !validation.ValidateDisplayName(req.Name):
		return errors.NewValidationError("name", "Name can only contain letters, numbers and spaces.")
	case req.Email == "":
		return errors.NewValidationError("email", "Please enter your email address.")
	case !validation.ValidateEmail(req.Email):
		return errors.NewValidationError("email", "Please enter a valid email address.")
	case req.AffiliateLink == "":
		return errors.NewValidationError("affiliateLink", "Please enter your affiliate link.")
	case !validation.ValidateHTTPURL(req.AffiliateLink):
		return errors.NewValidationError("affiliateLink", "Please enter a valid affiliate link.")
	case req.Username != "" && !validation.ValidateUsername(req.Username):
		return errors.NewValidationError("username", "Username may contain letters, numbers, dots, dashes and underscores.")
	case requireLogo && req.LogoID <= 0 && req.Logo == nil:
		return errors.NewValidationError("logo", "Please upload a logo.")
	}
	return nil
}

// Create validates, throttles, provisions, stores the logo, creates the page
// and renders it. Any failure after the logo is stored deletes the logo and
// the page again.
func (s *Service) Create(ctx context.Context, req Request) (*Result, error) {
	if err := Validate(&req, s.config.RequireLogo); err != nil {
		return nil, err
	}

	if s.deps.Throttle != nil {
		if err := s.deps.Throttle.Check(ctx, req.Visitor); err != nil {
			return nil, err
		}
	}

	if req.Username != "" && s.deps.Provisioner != nil {
		username, err := s.provision(ctx, req)
		if err != nil {
			return nil, err
		}
		req.Username = username
	}

	var stored *storedLogo
	if req.Logo != nil {
		var err error
		if stored, err = s.storeLogo(ctx, req.Logo); err != nil {
			return nil, err
		}
		req.LogoID = stored.id
	}

	result, err := s.createPage(ctx, req)
	if err != nil {
		s.removeLogo(stored, err)
		return nil, err
	}

	s.afterCreate(ctx, req, result)

	source := req.Source
	if source == "" {
		source = "worker"
	}
	metrics.LandingPagesCreated.WithLabelValues(source).Inc()
	return result, nil
}

func (s *Service) provision(ctx context.Context, req Request) (string, error) {
	ctx, span := s.deps.Obs.StartSpan(ctx, "landing-page.provision")
	defer span.End()

	first, last := provisioning.SplitName(req.Name)
	res, err := s.deps.Provisioner.Provision(ctx, provisioning.Request{
		Username:  req.Username,
		FirstName: first,
		LastName:  last,
		Email:     req.Email,
		IP:        req.Visitor.IP,
	})
	if err != nil {
		return "", err
	}
	return res.Username, nil
}

// storedLogo is a logo uploaded during this request.
type storedLogo struct {
	upload *media.Upload
	id     int64
}

func (s *Service) storeLogo(ctx context.Context, logo *LogoFile) (*storedLogo, error) {
	if s.deps.Uploader == nil {
		return nil, errors.NewUploadError("File uploads are not enabled.", nil)
	}
	ctx, span := s.deps.Obs.StartSpan(ctx, "landing-page.upload")
	defer span.End()

	upload, err := s.deps.Uploader.ReceiveUpload(ctx, logo.Reader, logo.Filename, logo.Size)
	if err != nil {
		return nil, err
	}
	id, err := s.deps.Uploader.RegisterAsMediaAsset(ctx, upload)
	if err != nil {
		s.deps.Uploader.Discard(upload)
		return nil, err
	}
	return &storedLogo{upload: upload, id: id}, nil
}

func (s *Service) createPage(ctx context.Context, req Request) (*Result, error) {
	ctx, span := s.deps.Obs.StartSpan(ctx, "landing-page.create")
	defer span.End()

	slug, err := s.deps.Store.UniqueSlug(ctx, req.Name)
	if err != nil {
		return nil, errors.NewPersistenceError("generate slug", err)
	}
	title := fmt.Sprintf(s.config.TitleFormat, req.Name)

	pageID, err := s.deps.Store.CreatePage(ctx, title, slug, s.config.AuthorID)
	if err != nil {
		return nil, errors.NewPersistenceError("create page", err)
	}
	span.SetAttributes(attribute.Int64("pageId", pageID))

	result, err := s.renderNewPage(ctx, pageID, req)
	if err != nil {
		s.rollback(pageID, err)
		return nil, err
	}
	result.PageID = pageID
	result.Slug = slug
	result.URL = PageURL(s.config.BaseURL, slug)
	return result, nil
}

func (s *Service) renderNewPage(ctx context.Context, pageID int64, req Request) (*Result, error) {
	record, err := s.deps.Submissions.BuildSubmissionRecord(ctx, req.Name,
		resolvesubmission.CompleteAffiliateLink(req.AffiliateLink, req.Username), req.LogoID)
	if err != nil {
		return nil, err
	}

	logoID := int64(0)
	if record.HasCustomLogo() {
		logoID = record.Logo.ID
	}

	meta := map[string]string{
		models.MetaName:                  req.Name,
		models.MetaEmail:                 req.Email,
		models.MetaLogoID:                strconv.FormatInt(logoID, 10),
		models.MetaAffiliateLink:         record.AffiliateURL,
		models.MetaHasCustomLogo:         boolMeta(record.HasCustomLogo()),
		models.MetaIsLandingPage:         "1",
		models.MetaElementorEditMode:     "builder",
		models.MetaPageTemplate:          models.PageTemplateCanvas,
		models.MetaElementorTemplateType: "wp-page",
		models.MetaElementorVersion:      s.config.ElementorVersion,
		models.MetaElementorCSS:          "",
	}
	if req.Username != "" {
		meta[models.MetaUsername] = req.Username
	}
	if err := s.deps.Store.SetMetas(ctx, pageID, meta); err != nil {
		return nil, errors.NewPersistenceError("write page meta", err)
	}

	src, err := s.deps.Templates.ResolveSourceTree(ctx, s.config.TemplateID)
	if err != nil {
		return nil, errors.NewTimeoutError("resolve template", err)
	}

	rendered, stats, src, err := s.transform(ctx, src, record)
	if err != nil {
		return nil, err
	}

	if err := s.deps.Store.SetMeta(ctx, pageID, models.MetaElementorData, string(rendered)); err != nil {
		return nil, errors.NewPersistenceError("write render tree", err)
	}

	if src.TemplateID > 0 {
		if _, err := s.deps.Templates.CopyTemplateMeta(ctx, src.TemplateID, pageID); err != nil {
			return nil, err
		}
	}

	if err := s.deps.Store.ClearRenderCache(ctx); err != nil {
		s.logger.Warn("failed to clear render cache", map[string]interface{}{"pageId": pageID, "error": err})
	}

	metrics.RecordSlotRewrites(stats)
	return &Result{
		Username:         req.Username,
		LogoID:           logoID,
		HasCustomLogo:    record.HasCustomLogo(),
		TemplateID:       src.TemplateID,
		FallbackTemplate: src.Fallback,
		Rewrites:         stats,
	}, nil
}

// transform renders src for record. A template the transformer rejects is
// replaced by the fallback tree.
func (s *Service) transform(ctx context.Context, src *resolvetemplate.SourceTree, record models.SubmissionRecord) ([]byte, transformtemplate.Stats, *resolvetemplate.SourceTree, error) {
	_, span := s.deps.Obs.StartSpan(ctx, "landing-page.transform")
	defer span.End()

	out, stats, err := transformtemplate.TransformWithStats(src.Tree, record)
	if err != nil {
		if !stderrors.Is(err, transformtemplate.ErrMalformedTemplate) || src.Fallback {
			return nil, nil, src, errors.NewMalformedTemplateError(err.Error(), err)
		}
		s.logger.Warn("template rejected by transformer, using fallback", map[string]interface{}{
			"templateId": src.TemplateID,
			"error":      err,
		})
		if src, err = s.deps.Templates.ResolveSourceTree(ctx, nil); err != nil {
			return nil, nil, nil, errors.NewTimeoutError("resolve template", err)
		}
		if out, stats, err = transformtemplate.TransformWithStats(src.Tree, record); err != nil {
			return nil, nil, src, errors.NewMalformedTemplateError(err.Error(), err)
		}
	}

	encoded, err := models.EncodeForest(out)
	if err != nil {
		return nil, nil, src, errors.NewInternalError(err)
	}
	return encoded, stats, src, nil
}

// afterCreate runs the steps whose failure must not undo a created page.
func (s *Service) afterCreate(ctx context.Context, req Request, result *Result) {
	if s.deps.Throttle != nil {
		if err := s.deps.Throttle.MarkSubmitted(ctx, req.Visitor); err != nil {
			s.logger.Warn("failed to record submission", map[string]interface{}{"error": err})
		}
	}

	now := time.Now().UTC()
	if s.deps.Index != nil {
		err := s.deps.Index.Put(ctx, pageindex.Document{
			PageID:    result.PageID,
			Email:     req.Email,
			Name:      req.Name,
			Slug:      result.Slug,
			URL:       result.URL,
			Username:  result.Username,
			UpdatedAt: now,
		})
		if err != nil {
			s.logger.Warn("failed to index landing page", map[string]interface{}{"pageId": result.PageID, "error": err})
		}
	}

	if s.deps.Notifier != nil {
		s.deps.Notifier.PageCreated(ctx, notify.PageEvent{
			PageID:    result.PageID,
			Name:      req.Name,
			Email:     req.Email,
			Username:  result.Username,
			URL:       result.URL,
			CreatedAt: now,
		})
	}
}

func (s *Service) rollback(pageID int64, cause error) {
	// the request context may already be done
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.deps.Store.DeletePage(ctx, pageID); err != nil {
		s.logger.Error("failed to roll back partial page", map[string]interface{}{
			"pageId": pageID,
			"cause":  cause,
			"error":  err,
		})
		return
	}
	s.logger.Warn("rolled back partial page", map[string]interface{}{"pageId": pageID, "cause": cause})
}

// removeLogo deletes a logo uploaded for a page that was not created or
// was rolled back.
func (s *Service) removeLogo(logo *storedLogo, cause error) {
	if logo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.deps.Uploader.Remove(ctx, logo.upload, logo.id); err != nil {
		s.logger.Error("failed to remove uploaded logo", map[string]interface{}{
			"mediaId": logo.id,
			"cause":   cause,
			"error":   err,
		})
	}
}

// PageURL joins the site base URL and a page slug.
func PageURL(baseURL, slug string) string {
	return strings.TrimRight(baseURL, "/") + "/" + slug + "/"
}

func boolMeta(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
