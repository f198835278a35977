//go:build e2e

// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"dynamic-site-maker/internal/common/config"
	"dynamic-site-maker/internal/common/contentstore"
	"dynamic-site-maker/internal/common/database"
	"dynamic-site-maker/internal/common/logger"
	"dynamic-site-maker/internal/common/pageindex"
	"dynamic-site-maker/internal/common/throttle"
	"dynamic-site-maker/internal/models"
	clp "dynamic-site-maker/internal/workers/landing-page/create-landing-page"
	flp "dynamic-site-maker/internal/workers/landing-page/find-landing-page"
	rs "dynamic-site-maker/internal/workers/landing-page/resolve-submission"
	rt "dynamic-site-maker/internal/workers/landing-page/resolve-template"
	ulp "dynamic-site-maker/internal/workers/landing-page/update-landing-page"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var zeebeClient zbc.Client

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestMain(m *testing.M) {
	var err error
	zeebeClient, err = zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         envOr("ZEEBE_ADDRESS", "localhost:26500"),
		UsePlaintextConnection: true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to create zeebe client: %v", err))
	}

	code := m.Run()

	zeebeClient.Close()
	os.Exit(code)
}

// e2eConfig points every backend at the local docker compose stack.
func e2eConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("ZEEBE_ADDRESS", envOr("ZEEBE_ADDRESS", "localhost:26500"))
	t.Setenv("DB_HOST", envOr("DB_HOST", "localhost"))
	t.Setenv("DB_USER", envOr("DB_USER", "sitemaker"))
	t.Setenv("DB_PASSWORD", envOr("DB_PASSWORD", "sitemaker"))
	t.Setenv("REDIS_ADDRESS", envOr("REDIS_ADDRESS", "localhost:6379"))
	t.Setenv("SITE_BASE_URL", "https://sites.example.com")

	cfg, err := config.Load()
	require.NoError(t, err)
	if addr := os.Getenv("ELASTICSEARCH_URL"); addr != "" {
		cfg.Database.Elasticsearch.Addresses = []string{addr}
	}
	return cfg
}

type stack struct {
	store   *contentstore.Store
	index   *pageindex.Index
	creator *clp.Service
	updater *ulp.Service
	finder  *flp.Finder
}

func TestFullE2E(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg := e2eConfig(t)
	s := connect(ctx, t, cfg)

	email := fmt.Sprintf("e2e-%d@example.com", time.Now().UnixNano())

	created, err := s.creator.Create(ctx, clp.Request{
		Name:          "End To End",
		Email:         email,
		AffiliateLink: "https://explodely.com/p/814557804?affiliate=e2e",
		Visitor:       throttle.Visitor{IP: "203.0.113.7"},
		Source:        "worker",
	})
	require.NoError(t, err)
	t.Logf("created page %d at %s", created.PageID, created.URL)

	meta, err := s.store.ListMeta(ctx, created.PageID)
	require.NoError(t, err)
	assert.Equal(t, "End To End", meta[models.MetaName])
	assert.Equal(t, email, meta[models.MetaEmail])
	assert.Contains(t, meta[models.MetaElementorData], "End To End's Landing Page")

	match, err := s.finder.FindByEmail(ctx, email)
	require.NoError(t, err)
	require.True(t, match.Found)
	assert.Equal(t, created.PageID, match.PageID)

	updated, err := s.updater.Update(ctx, ulp.Request{
		PageID:        created.PageID,
		AffiliateLink: "https://explodely.com/p/814557804?affiliate=e2e-updated",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"affiliateLink"}, updated.Changed)

	raw, err := s.store.GetMeta(ctx, created.PageID, models.MetaElementorData)
	require.NoError(t, err)
	assert.Contains(t, raw, "affiliate=e2e-updated")

	t.Log("full landing page workflow passed")
}

func connect(ctx context.Context, t *testing.T, cfg *config.Config) *stack {
	t.Helper()
	log := logger.NewTestLogger(t)

	_, err := zeebeClient.NewTopologyCommand().Send(ctx)
	require.NoError(t, err, "zeebe topology request failed")

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	require.NoError(t, err, "postgres connection failed")
	require.NoError(t, pg.Ping(ctx))
	require.NoError(t, pg.Migrate(ctx))
	t.Cleanup(func() { pg.Close() })

	rdb, err := database.NewRedis(cfg.Database.Redis)
	require.NoError(t, err, "redis connection failed")
	require.NoError(t, rdb.Ping(ctx))
	t.Cleanup(func() { rdb.Close() })

	s := &stack{store: contentstore.New(pg.DB, rdb.Client, log)}

	var emailIndex flp.EmailIndex
	createDeps := clp.Deps{Store: s.store}
	updateDeps := ulp.Deps{Store: s.store}
	if cfg.Database.Elasticsearch.Enabled() {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		require.NoError(t, err)
		require.NoError(t, es.Ping(ctx))
		s.index = pageindex.New(es.Client, cfg.Database.Elasticsearch.PageIndex)
		require.NoError(t, s.index.EnsureIndex(ctx))
		createDeps.Index = s.index
		updateDeps.Index = s.index
		emailIndex = s.index
	}

	submissions := rs.NewResolver(s.store, log)
	templates := rt.NewResolver(s.store, rt.ResolverConfig{AssetBaseURL: cfg.Site.BaseURL}, log)
	createDeps.Submissions, createDeps.Templates = submissions, templates
	updateDeps.Submissions, updateDeps.Templates = submissions, templates

	s.creator, err = clp.NewService(clp.ServiceConfig{
		AuthorID:         cfg.Site.PageAuthorID,
		TitleFormat:      cfg.Site.PageTitleFormat,
		ElementorVersion: cfg.Site.ElementorVersion,
		BaseURL:          cfg.Site.BaseURL,
	}, createDeps, log)
	require.NoError(t, err)

	s.updater, err = ulp.NewService(ulp.ServiceConfig{BaseURL: cfg.Site.BaseURL}, updateDeps, log)
	require.NoError(t, err)

	s.finder = flp.NewFinder(emailIndex, s.store, cfg.Site.BaseURL, log)
	return s
}
