package resolvetemplate

import (
	"context"
	"strings"
	"sync"
	"time"

	"dynamic-site-maker/internal/common/errors"
	"dynamic-site-maker/internal/common/logger"
	"dynamic-site-maker/internal/models"
	transformtemplate "dynamic-site-maker/internal/workers/landing-page/transform-template"
)

// TemplateStore is the part of the content store the resolver reads and writes.
type TemplateStore interface {
	GetMeta(ctx context.Context, pageID int64, key string) (string, error)
	ListMeta(ctx context.Context, pageID int64) (map[string]string, error)
	SetMeta(ctx context.Context, pageID int64, key, value string) error
	GetMediaURL(ctx context.Context, mediaID int64) (string, error)
}

type ResolverConfig struct {
	DefaultLogoID  int64
	DefaultLogoURL string
	AssetBaseURL   string
	CacheTTL       time.Duration
}

// SourceTree is a resolved template. TemplateID is 0 when the fallback was used.
type SourceTree struct {
	Tree       []models.ElementNode
	TemplateID int64
	Fallback   bool
	Reason     string
}

type cacheEntry struct {
	tree     []models.ElementNode
	loadedAt time.Time
}

type Resolver struct {
	store  TemplateStore
	config ResolverConfig
	logger logger.Logger

	mu    sync.RWMutex
	cache map[int64]*cacheEntry
}

func NewResolver(store TemplateStore, config ResolverConfig, log logger.Logger) *Resolver {
	return &Resolver{
		store:  store,
		config: config,
		logger: log,
		cache:  make(map[int64]*cacheEntry),
	}
}

// ResolveSourceTree returns the configured library template, or the fallback
// tree when none is configured or it cannot be loaded. Trees are shared
// read-only between callers.
func (r *Resolver) ResolveSourceTree(ctx context.Context, templateID *int) (*SourceTree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if templateID == nil || *templateID <= 0 {
		return r.fallback(ctx, "no template configured"), nil
	}
	id := int64(*templateID)

	if tree, ok := r.cached(id); ok {
		return &SourceTree{Tree: tree, TemplateID: id}, nil
	}

	raw, err := r.store.GetMeta(ctx, id, models.MetaElementorData)
	if err != nil {
		r.logger.Warn("template lookup failed, using fallback", map[string]interface{}{"templateId": id, "error": err})
		return r.fallback(ctx, "template lookup failed"), nil
	}
	if strings.TrimSpace(raw) == "" || strings.TrimSpace(raw) == "[]" {
		r.logger.Warn("template is empty, using fallback", map[string]interface{}{"templateId": id})
		return r.fallback(ctx, "template empty"), nil
	}

	if err := transformtemplate.ValidateForestShape([]byte(raw)); err != nil {
		r.logger.Warn("template is malformed, using fallback", map[string]interface{}{"templateId": id, "error": err})
		return r.fallback(ctx, "template malformed"), nil
	}
	tree, err := models.DecodeForest([]byte(raw))
	if err != nil {
		r.logger.Warn("template is malformed, using fallback", map[string]interface{}{"templateId": id, "error": err})
		return r.fallback(ctx, "template malformed"), nil
	}

	r.mu.Lock()
	r.cache[id] = &cacheEntry{tree: tree, loadedAt: time.Now()}
	r.mu.Unlock()

	return &SourceTree{Tree: tree, TemplateID: id}, nil
}

func (r *Resolver) cached(id int64) ([]models.ElementNode, bool) {
	if r.config.CacheTTL <= 0 {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[id]
	if !ok || time.Since(entry.loadedAt) >= r.config.CacheTTL {
		return nil, false
	}
	return entry.tree, true
}

// Invalidate drops a cached template.
func (r *Resolver) Invalidate(templateID int64) {
	r.mu.Lock()
	delete(r.cache, templateID)
	r.mu.Unlock()
}

func (r *Resolver) fallback(ctx context.Context, reason string) *SourceTree {
	return &SourceTree{
		Tree:     FallbackTree(r.config.DefaultLogoID, r.defaultLogoURL(ctx)),
		Fallback: true,
		Reason:   reason,
	}
}

func (r *Resolver) defaultLogoURL(ctx context.Context) string {
	if r.config.DefaultLogoID > 0 {
		url, err := r.store.GetMediaURL(ctx, r.config.DefaultLogoID)
		if err == nil && url != "" {
			return url
		}
	}
	if r.config.DefaultLogoURL != "" {
		return r.config.DefaultLogoURL
	}
	return bundledLogoURL(r.config.AssetBaseURL)
}

var excludedMetaKeys = map[string]bool{
	models.MetaElementorData: true,
	models.MetaPageTemplate:  true,
	models.MetaPostContent:   true,
}

// IsPresentationMeta reports whether a template meta key carries styling
// that should follow the template onto generated pages.
func IsPresentationMeta(key string) bool {
	if excludedMetaKeys[key] {
		return false
	}
	return strings.HasPrefix(key, "_elementor_") || strings.HasPrefix(key, "elementor_")
}

// CopyTemplateMeta copies presentation meta from a template onto a page and
// returns the number of keys written.
func (r *Resolver) CopyTemplateMeta(ctx context.Context, templateID, pageID int64) (int, error) {
	meta, err := r.store.ListMeta(ctx, templateID)
	if err != nil {
		return 0, errors.NewPersistenceError("read template meta", err)
	}

	copied := 0
	for key, value := range meta {
		if !IsPresentationMeta(key) {
			continue
		}
		if err := r.store.SetMeta(ctx, pageID, key, value); err != nil {
			return copied, errors.NewPersistenceError("copy template meta", err)
		}
		copied++
	}
	return copied, nil
}
