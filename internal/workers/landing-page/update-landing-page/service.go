package updatelandingpage

import (
	"context"
	stderrors "errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"dynamic-site-maker/internal/common/contentstore"
	"dynamic-site-maker/internal/common/errors"
	"dynamic-site-maker/internal/common/logger"
	"dynamic-site-maker/internal/common/observability"
	"dynamic-site-maker/internal/common/pageindex"
	"dynamic-site-maker/internal/common/validation"
	"dynamic-site-maker/internal/models"
	createlandingpage "dynamic-site-maker/internal/workers/landing-page/create-landing-page"
	resolvesubmission "dynamic-site-maker/internal/workers/landing-page/resolve-submission"
	resolvetemplate "dynamic-site-maker/internal/workers/landing-page/resolve-template"
	transformtemplate "dynamic-site-maker/internal/workers/landing-page/transform-template"

	"go.opentelemetry.io/otel/attribute"
)

// ContentStore is the part of the content store an edit touches.
type ContentStore interface {
	GetPage(ctx context.Context, pageID int64) (*models.LandingPage, error)
	ListMeta(ctx context.Context, pageID int64) (map[string]string, error)
	SetMetas(ctx context.Context, pageID int64, meta map[string]string) error
	SetMeta(ctx context.Context, pageID int64, key, value string) error
	TouchPage(ctx context.Context, pageID int64) error
	ClearRenderCache(ctx context.Context) error
}

type ServiceConfig struct {
	BaseURL    string
	TemplateID *int
}

// Deps are the collaborators of Service. Uploader, Index and Obs are optional.
type Deps struct {
	Store       ContentStore
	Submissions *resolvesubmission.Resolver
	Templates   *resolvetemplate.Resolver
	Uploader    createlandingpage.Uploader
	Index       createlandingpage.PageIndex
	Obs         *observability.Observability
}

// Request names the page to edit. Empty fields are left as they are.
type Request struct {
	PageID        int64
	Name          string
	Email         string
	AffiliateLink string
	LogoID        int64
	Logo          *createlandingpage.LogoFile
}

type Result struct {
	PageID     int64          `json:"pageId"`
	URL        string         `json:"url"`
	Changed    []string       `json:"changed"`
	FromSource bool           `json:"fromSource"`
	Rewrites   map[string]int `json:"rewrites"`
}

type Service struct {
	config ServiceConfig
	deps   Deps
	logger logger.Logger
}

func NewService(config ServiceConfig, deps Deps, log logger.Logger) (*Service, error) {
	if deps.Store == nil || deps.Submissions == nil || deps.Templates == nil {
		return nil, stderrors.New("update landing page requires a content store and both resolvers")
	}
	return &Service{config: config, deps: deps, logger: log}, nil
}

// Update applies the changed fields to the page meta and re-renders the
// page. The stored render tree is transformed in place; when the page has
// no usable tree, its tree takes no rewrite for a visible change, or the
// name changed, the page is rendered again from the source template. The name
// token is consumed by the first render, so only the source can take a new
// name.
func (s *Service) Update(ctx context.Context, req Request) (*Result, error) {
	ctx, span := s.deps.Obs.StartSpan(ctx, "landing-page.update", attribute.Int64("pageId", req.PageID))
	defer span.End()

	if req.PageID <= 0 {
		return nil, errors.NewValidationError("pageId", "Invalid page ID.")
	}

	page, err := s.deps.Store.GetPage(ctx, req.PageID)
	if stderrors.Is(err, contentstore.ErrPageNotFound) {
		return nil, errors.NewPageNotFoundError(err.Error())
	}
	if err != nil {
		return nil, errors.NewPersistenceError("read page", err)
	}

	meta, err := s.deps.Store.ListMeta(ctx, req.PageID)
	if err != nil {
		return nil, errors.NewPersistenceError("read page meta", err)
	}
	if meta[models.MetaName] == "" {
		return nil, errors.NewPageNotFoundError("This is not a valid landing page.")
	}

	if req.Logo != nil {
		logoID, err := s.storeLogo(ctx, req.Logo)
		if err != nil {
			return nil, err
		}
		req.LogoID = logoID
	}

	changes, err := diff(meta, req)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, errors.NewNoChangesError()
	}
	for k, v := range changes {
		meta[k] = v
	}

	logoID, _ := strconv.ParseInt(meta[models.MetaLogoID], 10, 64)
	record, err := s.deps.Submissions.BuildSubmissionRecord(ctx, meta[models.MetaName], meta[models.MetaAffiliateLink], logoID)
	if err != nil {
		return nil, err
	}
	if _, ok := changes[models.MetaLogoID]; ok {
		changes[models.MetaHasCustomLogo] = boolMeta(record.HasCustomLogo())
		if !record.HasCustomLogo() {
			changes[models.MetaLogoID] = "0"
		}
	}

	if err := s.deps.Store.SetMetas(ctx, req.PageID, changes); err != nil {
		return nil, errors.NewPersistenceError("write page meta", err)
	}

	stored := meta[models.MetaElementorData]
	if _, renamed := changes[models.MetaName]; renamed {
		stored = ""
	}
	rendered, stats, fromSource, err := s.render(ctx, stored, record, touchesRender(changes))
	if err != nil {
		return nil, err
	}
	if err := s.deps.Store.SetMeta(ctx, req.PageID, models.MetaElementorData, string(rendered)); err != nil {
		return nil, errors.NewPersistenceError("write render tree", err)
	}
	if err := s.deps.Store.TouchPage(ctx, req.PageID); err != nil {
		s.logger.Warn("failed to touch page", map[string]interface{}{"pageId": req.PageID, "error": err})
	}
	if err := s.deps.Store.ClearRenderCache(ctx); err != nil {
		s.logger.Warn("failed to clear render cache", map[string]interface{}{"pageId": req.PageID, "error": err})
	}

	url := createlandingpage.PageURL(s.config.BaseURL, page.Slug)
	s.reindex(ctx, page, meta, url)

	return &Result{
		PageID:     req.PageID,
		URL:        url,
		Changed:    changedFields(changes),
		FromSource: fromSource,
		Rewrites:   stats,
	}, nil
}

// diff validates the supplied fields and returns the meta values that differ
// from what is stored.
func diff(meta map[string]string, req Request) (map[string]string, error) {
	changes := map[string]string{}

	if name := validation.SanitizeText(req.Name); name != "" {
		if !validation.ValidateDisplayName(name) {
			return nil, errors.NewValidationError("name", "Name can only contain letters, numbers and spaces.")
		}
		if name != meta[models.MetaName] {
			changes[models.MetaName] = name
		}
	}

	if email := strings.TrimSpace(req.Email); email != "" {
		if !validation.ValidateEmail(email) {
			return nil, errors.NewValidationError("email", "Please enter a valid email address.")
		}
		if email != meta[models.MetaEmail] {
			changes[models.MetaEmail] = email
		}
	}

	if link := strings.TrimSpace(req.AffiliateLink); link != "" {
		if !validation.ValidateHTTPURL(link) {
			return nil, errors.NewValidationError("affiliateLink", "Please enter a valid affiliate link.")
		}
		link = resolvesubmission.CompleteAffiliateLink(link, meta[models.MetaUsername])
		if link != meta[models.MetaAffiliateLink] {
			changes[models.MetaAffiliateLink] = link
		}
	}

	if req.LogoID > 0 {
		if id := strconv.FormatInt(req.LogoID, 10); id != meta[models.MetaLogoID] {
			changes[models.MetaLogoID] = id
		}
	}

	return changes, nil
}

// touchesRender reports whether any changed field is shown on the page.
func touchesRender(changes map[string]string) bool {
	for _, key := range []string{models.MetaName, models.MetaAffiliateLink, models.MetaLogoID} {
		if _, ok := changes[key]; ok {
			return true
		}
	}
	return false
}

// render re-transforms stored. A stored tree that takes no rewrite for an
// edit the page shows is replaced by a fresh render of the source template.
func (s *Service) render(ctx context.Context, stored string, record models.SubmissionRecord, visible bool) ([]byte, transformtemplate.Stats, bool, error) {
	if stored != "" {
		tree, err := models.DecodeForest([]byte(stored))
		if err == nil {
			out, stats, terr := transformtemplate.TransformWithStats(tree, record)
			if terr == nil && (stats.Total() > 0 || !visible) {
				encoded, err := models.EncodeForest(out)
				if err != nil {
					return nil, nil, false, errors.NewInternalError(err)
				}
				return encoded, stats, false, nil
			}
			err = terr
		}
		s.logger.Warn("stored render tree not usable, rendering from source", map[string]interface{}{"error": err})
	}

	src, err := s.deps.Templates.ResolveSourceTree(ctx, s.config.TemplateID)
	if err != nil {
		return nil, nil, false, errors.NewTimeoutError("resolve template", err)
	}
	out, stats, err := transformtemplate.TransformWithStats(src.Tree, record)
	if err != nil {
		return nil, nil, false, errors.NewMalformedTemplateError(err.Error(), err)
	}
	encoded, err := models.EncodeForest(out)
	if err != nil {
		return nil, nil, false, errors.NewInternalError(err)
	}
	return encoded, stats, true, nil
}

func (s *Service) storeLogo(ctx context.Context, logo *createlandingpage.LogoFile) (int64, error) {
	if s.deps.Uploader == nil {
		return 0, errors.NewUploadError("File uploads are not enabled.", nil)
	}
	upload, err := s.deps.Uploader.ReceiveUpload(ctx, logo.Reader, logo.Filename, logo.Size)
	if err != nil {
		return 0, err
	}
	id, err := s.deps.Uploader.RegisterAsMediaAsset(ctx, upload)
	if err != nil {
		s.deps.Uploader.Discard(upload)
		return 0, err
	}
	return id, nil
}

func (s *Service) reindex(ctx context.Context, page *models.LandingPage, meta map[string]string, url string) {
	if s.deps.Index == nil {
		return
	}
	err := s.deps.Index.Put(ctx, pageindex.Document{
		PageID:    page.ID,
		Email:     meta[models.MetaEmail],
		Name:      meta[models.MetaName],
		Slug:      page.Slug,
		URL:       url,
		Username:  meta[models.MetaUsername],
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("failed to reindex landing page", map[string]interface{}{"pageId": page.ID, "error": err})
	}
}

var fieldNames = map[string]string{
	models.MetaName:          "name",
	models.MetaEmail:         "email",
	models.MetaAffiliateLink: "affiliateLink",
	models.MetaLogoID:        "logo",
}

func changedFields(changes map[string]string) []string {
	var out []string
	for key := range changes {
		if name, ok := fieldNames[key]; ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func boolMeta(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
