package findlandingpage

import (
	"context"
	"strings"

	"dynamic-site-maker/internal/common/errors"
	"dynamic-site-maker/internal/common/logger"
	"dynamic-site-maker/internal/common/pageindex"
	"dynamic-site-maker/internal/common/validation"
	"dynamic-site-maker/internal/models"
	createlandingpage "dynamic-site-maker/internal/workers/landing-page/create-landing-page"
)

type EmailIndex interface {
	FindByEmail(ctx context.Context, email string) (*pageindex.Document, bool, error)
}

type PageStore interface {
	FindPageByMetaValue(ctx context.Context, key, value string) (int64, bool, error)
	GetPage(ctx context.Context, pageID int64) (*models.LandingPage, error)
}

const (
	SourceIndex    = "index"
	SourceDatabase = "database"
)

// Match is the landing page owned by an email address.
type Match struct {
	Found  bool   `json:"found"`
	PageID int64  `json:"pageId,omitempty"`
	URL    string `json:"url,omitempty"`
	Source string `json:"source,omitempty"`
}

// Finder looks pages up in the search index first and falls back to the
// page meta table, which is authoritative, on a miss or an index error.
type Finder struct {
	index   EmailIndex
	store   PageStore
	baseURL string
	logger  logger.Logger
}

// NewFinder accepts a nil index; lookups then go straight to the store.
func NewFinder(index EmailIndex, store PageStore, baseURL string, log logger.Logger) *Finder {
	return &Finder{index: index, store: store, baseURL: baseURL, logger: log}
}

func (f *Finder) FindByEmail(ctx context.Context, email string) (*Match, error) {
	email = strings.TrimSpace(email)
	if !validation.ValidateEmail(email) {
		return nil, errors.NewValidationError("email", "Please enter a valid email address.")
	}

	if f.index != nil {
		doc, found, err := f.index.FindByEmail(ctx, email)
		switch {
		case err != nil:
			f.logger.Warn("page index lookup failed, using database", map[string]interface{}{"error": err})
		case found:
			return &Match{Found: true, PageID: doc.PageID, URL: doc.URL, Source: SourceIndex}, nil
		}
	}

	pageID, found, err := f.store.FindPageByMetaValue(ctx, models.MetaEmail, email)
	if err != nil {
		return nil, errors.NewPersistenceError("find page by email", err)
	}
	if !found {
		return &Match{Found: false}, nil
	}

	page, err := f.store.GetPage(ctx, pageID)
	if err != nil {
		return nil, errors.NewPersistenceError("read page", err)
	}
	return &Match{
		Found:  true,
		PageID: pageID,
		URL:    createlandingpage.PageURL(f.baseURL, page.Slug),
		Source: SourceDatabase,
	}, nil
}
