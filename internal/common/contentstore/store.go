// internal/common/contentstore/store.go
package contentstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"dynamic-site-maker/internal/common/logger"
	"dynamic-site-maker/internal/models"

	"github.com/redis/go-redis/v9"
)

var (
	ErrPageNotFound = errors.New("PAGE_NOT_FOUND")
	ErrEmptySlug    = errors.New("EMPTY_SLUG")
)

// RenderCacheKey holds the render cache generation. Renderers compare it with
// the generation their cached styles were built against.
const RenderCacheKey = "dsmk:render_cache_generation"

// maxSlugAttempts bounds the suffix search in UniqueSlug.
const maxSlugAttempts = 1000

var slugSeparators = regexp.MustCompile(`[^a-z0-9]+`)

// Store is the content store: pages, their meta and media assets in postgres,
// plus the render cache generation counter in redis.
type Store struct {
	db     *sql.DB
	redis  *redis.Client
	logger logger.Logger
}

// New builds a Store. redisClient may be nil, in which case ClearRenderCache
// is a no-op.
func New(db *sql.DB, redisClient *redis.Client, log logger.Logger) *Store {
	return &Store{db: db, redis: redisClient, logger: log}
}

// ==========================
// Pages
// ==========================

func (s *Store) CreatePage(ctx context.Context, title, slug string, authorID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO pages (title, slug, status, author_id) VALUES ($1, $2, $3, $4) RETURNING id`,
		title, slug, models.PageStatusPublish, authorID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert page: %w", err)
	}
	return id, nil
}

// DeletePage removes a page and, through the foreign key, its meta.
func (s *Store) DeletePage(ctx context.Context, pageID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE id = $1`, pageID); err != nil {
		return fmt.Errorf("delete page %d: %w", pageID, err)
	}
	return nil
}

func (s *Store) GetPage(ctx context.Context, pageID int64) (*models.LandingPage, error) {
	page := &models.LandingPage{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, slug, status, author_id, created_at, updated_at FROM pages WHERE id = $1`,
		pageID,
	).Scan(&page.ID, &page.Title, &page.Slug, &page.Status, &page.AuthorID, &page.CreatedAt, &page.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrPageNotFound, pageID)
	}
	if err != nil {
		return nil, fmt.Errorf("select page %d: %w", pageID, err)
	}
	return page, nil
}

// TouchPage bumps updated_at.
func (s *Store) TouchPage(ctx context.Context, pageID int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE pages SET updated_at = $1 WHERE id = $2`, time.Now().UTC(), pageID); err != nil {
		return fmt.Errorf("touch page %d: %w", pageID, err)
	}
	return nil
}

func (s *Store) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM pages WHERE slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return exists, nil
}

// Slugify lowercases name and collapses runs of anything other than letters
// and digits into single dashes.
func Slugify(name string) string {
	slug := slugSeparators.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(slug, "-")
}

// UniqueSlug returns Slugify(name), or the first of base-1, base-2, ... that
// no page uses yet.
func (s *Store) UniqueSlug(ctx context.Context, name string) (string, error) {
	base := Slugify(name)
	if base == "" {
		return "", ErrEmptySlug
	}

	candidate := base
	for i := 1; i <= maxSlugAttempts; i++ {
		taken, err := s.SlugExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(i)
	}
	return "", fmt.Errorf("no free slug for %q after %d attempts", base, maxSlugAttempts)
}

// ==========================
// Meta
// ==========================

// GetMeta returns "" when the key is not set.
func (s *Store) GetMeta(ctx context.Context, pageID int64, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT meta_value FROM page_meta WHERE page_id = $1 AND meta_key = $2`,
		pageID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) SetMeta(ctx context.Context, pageID int64, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO page_meta (page_id, meta_key, meta_value) VALUES ($1, $2, $3)
		 ON CONFLICT (page_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value`,
		pageID, key, value,
	)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// SetMetas writes several keys in one transaction.
func (s *Store) SetMetas(ctx context.Context, pageID int64, meta map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin meta tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO page_meta (page_id, meta_key, meta_value) VALUES ($1, $2, $3)
		 ON CONFLICT (page_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value`)
	if err != nil {
		return fmt.Errorf("prepare meta: %w", err)
	}
	defer stmt.Close()

	for key, value := range meta {
		if _, err := stmt.ExecContext(ctx, pageID, key, value); err != nil {
			return fmt.Errorf("set meta %s: %w", key, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListMeta(ctx context.Context, pageID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT meta_key, meta_value FROM page_meta WHERE page_id = $1`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list meta: %w", err)
	}
	defer rows.Close()

	meta := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan meta: %w", err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

// FindPageByMetaValue returns the lowest page id whose key equals value.
func (s *Store) FindPageByMetaValue(ctx context.Context, key, value string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT page_id FROM page_meta WHERE meta_key = $1 AND md5(meta_value) = md5($2) AND meta_value = $2 ORDER BY page_id LIMIT 1`,
		key, value,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find page by %s: %w", key, err)
	}
	return id, true, nil
}

// GetTemplateTree returns the stored render tree of a page, or nil when it
// has none.
func (s *Store) GetTemplateTree(ctx context.Context, pageID int64) ([]models.ElementNode, error) {
	raw, err := s.GetMeta(ctx, pageID, models.MetaElementorData)
	if err != nil || raw == "" {
		return nil, err
	}
	return models.DecodeForest([]byte(raw))
}

// ==========================
// Media
// ==========================

func (s *Store) CreateMedia(ctx context.Context, asset models.MediaAsset) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO media (path, mime_type, url, width, height) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		asset.Path, asset.MimeType, asset.URL, asset.Width, asset.Height,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert media: %w", err)
	}
	return id, nil
}

func (s *Store) DeleteMedia(ctx context.Context, mediaID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM media WHERE id = $1`, mediaID); err != nil {
		return fmt.Errorf("delete media %d: %w", mediaID, err)
	}
	return nil
}

func (s *Store) MediaExists(ctx context.Context, mediaID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM media WHERE id = $1)`, mediaID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check media %d: %w", mediaID, err)
	}
	return exists, nil
}

// GetMediaURL returns "" for an unknown asset.
func (s *Store) GetMediaURL(ctx context.Context, mediaID int64) (string, error) {
	var url string
	err := s.db.QueryRowContext(ctx, `SELECT url FROM media WHERE id = $1`, mediaID).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get media url %d: %w", mediaID, err)
	}
	return url, nil
}

// ==========================
// Render cache
// ==========================

// ClearRenderCache advances the render cache generation so the next page
// view regenerates its styles.
func (s *Store) ClearRenderCache(ctx context.Context) error {
	if s.redis == nil {
		return nil
	}
	gen, err := s.redis.Incr(ctx, RenderCacheKey).Result()
	if err != nil {
		return fmt.Errorf("clear render cache: %w", err)
	}
	s.logger.Debug("render cache cleared", map[string]interface{}{"generation": gen})
	return nil
}

// RenderCacheGeneration returns the current generation, 0 when never cleared.
func (s *Store) RenderCacheGeneration(ctx context.Context) (int64, error) {
	if s.redis == nil {
		return 0, nil
	}
	gen, err := s.redis.Get(ctx, RenderCacheKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}
