package resolvesubmission

import (
	"context"

	"dynamic-site-maker/internal/common/errors"
	"dynamic-site-maker/internal/common/logger"
	"dynamic-site-maker/internal/models"
)

// MediaStore is the part of the content store the resolver needs.
type MediaStore interface {
	MediaExists(ctx context.Context, mediaID int64) (bool, error)
	GetMediaURL(ctx context.Context, mediaID int64) (string, error)
}

// Resolver builds SubmissionRecords and owns the has-custom-logo decision.
type Resolver struct {
	media  MediaStore
	logger logger.Logger
}

func NewResolver(media MediaStore, log logger.Logger) *Resolver {
	return &Resolver{media: media, logger: log}
}

// BuildSubmissionRecord derives the price and resolves logoID to a logo
// reference. A logo that no longer exists, or has no URL, is dropped with a
// warning and the record falls back to the template's default artwork.
func (r *Resolver) BuildSubmissionRecord(ctx context.Context, name, affiliateURL string, logoID int64) (models.SubmissionRecord, error) {
	record := models.SubmissionRecord{
		DisplayName:  name,
		AffiliateURL: affiliateURL,
		DerivedPrice: models.DerivePrice(affiliateURL),
	}

	logo, err := r.resolveLogo(ctx, logoID)
	if err != nil {
		return models.SubmissionRecord{}, err
	}
	record.Logo = logo
	return record, nil
}

func (r *Resolver) resolveLogo(ctx context.Context, logoID int64) (*models.LogoReference, error) {
	if logoID <= 0 {
		return nil, nil
	}

	exists, err := r.media.MediaExists(ctx, logoID)
	if err != nil {
		return nil, errors.NewPersistenceError("check logo asset", err)
	}
	if !exists {
		r.logger.Warn("logo asset does not exist, using template default", map[string]interface{}{"logoId": logoID})
		return nil, nil
	}

	url, err := r.media.GetMediaURL(ctx, logoID)
	if err != nil {
		return nil, errors.NewPersistenceError("read logo url", err)
	}
	if url == "" {
		r.logger.Warn("logo asset has no url, using template default", map[string]interface{}{"logoId": logoID})
		return nil, nil
	}

	return &models.LogoReference{ID: logoID, URL: url}, nil
}
