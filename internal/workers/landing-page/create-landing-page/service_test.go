package createlandingpage

import (
	"context"
	"strings"
	"testing"
	"time"

	apperrors "dynamic-site-maker/internal/common/errors"
	"dynamic-site-maker/internal/common/logger"
	"dynamic-site-maker/internal/common/notify"
	"dynamic-site-maker/internal/common/pageindex"
	"dynamic-site-maker/internal/common/provisioning"
	"dynamic-site-maker/internal/common/throttle"
	"dynamic-site-maker/internal/models"
	resolvesubmission "dynamic-site-maker/internal/workers/landing-page/resolve-submission"
	resolvetemplate "dynamic-site-maker/internal/workers/landing-page/resolve-template"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type testEnv struct {
	store    *memoryStore
	throttle *mockThrottle
	index    *mockIndex
	notifier *mockNotifier
	service  *Service
}

func createTestConfig() ServiceConfig {
	return ServiceConfig{
		AuthorID:         1,
		ElementorVersion: "3.18.0",
		BaseURL:          "https://sites.example.com",
	}
}

func createTestEnv(t *testing.T, cfg ServiceConfig, provisioner Provisioner) *testEnv {
	log := logger.NewTestLogger(t)
	env := &testEnv{
		store:    newMemoryStore(),
		throttle: &mockThrottle{},
		index:    &mockIndex{},
		notifier: &mockNotifier{},
	}
	env.throttle.On("Check", mock.Anything, mock.Anything).Return(nil).Maybe()
	env.throttle.On("MarkSubmitted", mock.Anything, mock.Anything).Return(nil).Maybe()
	env.index.On("Put", mock.Anything, mock.Anything).Return(nil).Maybe()
	env.notifier.On("PageCreated", mock.Anything, mock.Anything).Return(notify.Result{}).Maybe()

	deps := Deps{
		Store:       env.store,
		Submissions: resolvesubmission.NewResolver(env.store, log),
		Templates: resolvetemplate.NewResolver(env.store, resolvetemplate.ResolverConfig{
			AssetBaseURL: cfg.BaseURL,
		}, log),
		Throttle:    env.throttle,
		Provisioner: provisioner,
		Index:       env.index,
		Notifier:    env.notifier,
	}
	svc, err := NewService(cfg, deps, log)
	require.NoError(t, err)
	env.service = svc
	return env
}

func adaRequest() Request {
	return Request{
		Name:          "Ada Lovelace",
		Email:         "ada@example.com",
		AffiliateLink: "https://explodely.com/p/814557804?affiliate=ada",
		Visitor:       throttle.Visitor{IP: "1.2.3.4"},
	}
}

func renderedTree(t *testing.T, env *testEnv, pageID int64) []models.ElementNode {
	raw := env.store.pageMeta(pageID, models.MetaElementorData)
	require.NotEmpty(t, raw)
	tree, err := models.DecodeForest([]byte(raw))
	require.NoError(t, err)
	return tree
}

func deepTemplate(depth int) string {
	node := models.ElementNode{ID: "leaf", ElType: models.ElTypeWidget, WidgetType: models.WidgetHeading,
		Settings: models.Settings{"title": "{{name}}"}}
	for i := 1; i < depth; i++ {
		node = models.ElementNode{ID: "n", ElType: models.ElTypeSection, Elements: []models.ElementNode{node}}
	}
	raw, _ := models.EncodeForest([]models.ElementNode{node})
	return string(raw)
}

// ==========================
// Happy Path
// ==========================

func TestCreate_FallbackTemplateEndToEnd(t *testing.T) {
	env := createTestEnv(t, createTestConfig(), nil)

	res, err := env.service.Create(context.Background(), adaRequest())
	require.NoError(t, err)

	assert.Equal(t, "ada-lovelace", res.Slug)
	assert.Equal(t, "https://sites.example.com/ada-lovelace/", res.URL)
	assert.True(t, res.FallbackTemplate)
	assert.False(t, res.HasCustomLogo)
	assert.Equal(t, "Ada Lovelace's Landing Page", env.store.titles[res.PageID])

	column := renderedTree(t, env, res.PageID)[0].Elements[0]
	heading, image, button := column.Elements[0], column.Elements[1], column.Elements[2]
	assert.Equal(t, "Ada Lovelace's Landing Page", heading.Settings["title"])

	img := image.Settings["image"].(map[string]interface{})
	assert.Equal(t, "{{logo_url}}", img["url"])

	link := button.Settings["link"].(map[string]interface{})
	assert.Equal(t, "https://explodely.com/p/814557804?affiliate=ada", link["url"])
	assert.Equal(t, true, link["is_external"])

	assert.Equal(t, 1, env.store.cacheClear)
	env.throttle.AssertCalled(t, "MarkSubmitted", mock.Anything, throttle.Visitor{IP: "1.2.3.4"})
	env.index.AssertCalled(t, "Put", mock.Anything, mock.MatchedBy(func(d pageindex.Document) bool {
		return d.PageID == res.PageID && d.Email == "ada@example.com"
	}))
	env.notifier.AssertCalled(t, "PageCreated", mock.Anything, mock.MatchedBy(func(ev notify.PageEvent) bool {
		return ev.URL == res.URL
	}))
}

func TestCreate_WritesPageMeta(t *testing.T) {
	env := createTestEnv(t, createTestConfig(), nil)
	req := adaRequest()
	req.LogoID = 55 // no such asset

	res, err := env.service.Create(context.Background(), req)
	require.NoError(t, err)

	expected := map[string]string{
		models.MetaName:                  "Ada Lovelace",
		models.MetaEmail:                 "ada@example.com",
		models.MetaLogoID:                "0",
		models.MetaHasCustomLogo:         "0",
		models.MetaIsLandingPage:         "1",
		models.MetaElementorEditMode:     "builder",
		models.MetaPageTemplate:          models.PageTemplateCanvas,
		models.MetaElementorTemplateType: "wp-page",
		models.MetaElementorVersion:      "3.18.0",
		models.MetaElementorCSS:          "",
		models.MetaAffiliateLink:         "https://explodely.com/p/814557804?affiliate=ada",
	}
	for key, want := range expected {
		assert.Equal(t, want, env.store.pageMeta(res.PageID, key), key)
	}
	assert.Equal(t, int64(0), res.LogoID)
}

func TestCreate_CustomLogoAndLibraryTemplate(t *testing.T) {
	cfg := createTestConfig()
	templateID := 12
	cfg.TemplateID = &templateID
	env := createTestEnv(t, cfg, nil)

	env.store.media[7] = "https://cdn.example.com/ada.png"
	env.store.meta[12] = map[string]string{
		models.MetaElementorData: `[{"id":"s","elType":"section","settings":[],"elements":[
			{"id":"img","elType":"widget","widgetType":"image","settings":{"_css_classes":"dsmk-logo","image":{"id":1,"url":"https://cdn/default.png"}},"elements":[]},
			{"id":"btn","elType":"widget","widgetType":"button","settings":{"_css_classes":"dsmk-affiliate","text":"Reserve Your Seat Now"},"elements":[]}
		]}]`,
		"_elementor_page_settings": "a:1:{}",
	}

	req := adaRequest()
	req.LogoID = 7
	res, err := env.service.Create(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, res.FallbackTemplate)
	assert.Equal(t, int64(12), res.TemplateID)
	assert.True(t, res.HasCustomLogo)
	assert.Equal(t, "1", env.store.pageMeta(res.PageID, models.MetaHasCustomLogo))
	assert.Equal(t, "7", env.store.pageMeta(res.PageID, models.MetaLogoID))
	assert.Equal(t, "a:1:{}", env.store.pageMeta(res.PageID, "_elementor_page_settings"))

	tree := renderedTree(t, env, res.PageID)
	img := tree[0].Elements[0].Settings["image"].(map[string]interface{})
	assert.Equal(t, "https://cdn.example.com/ada.png", img["url"])
	assert.Equal(t, "Reserve Your Seat For $97", tree[0].Elements[1].Settings["text"])
	assert.Equal(t, 1, res.Rewrites["logo"])
}

func TestCreate_SlugCollision(t *testing.T) {
	env := createTestEnv(t, createTestConfig(), nil)

	_, err := env.service.Create(context.Background(), adaRequest())
	require.NoError(t, err)
	second, err := env.service.Create(context.Background(), adaRequest())
	require.NoError(t, err)

	assert.Equal(t, "ada-lovelace-1", second.Slug)
	assert.Equal(t, []string{"ada-lovelace", "ada-lovelace-1"}, env.store.slugs())
}

func TestCreate_TooDeepTemplateFallsBack(t *testing.T) {
	cfg := createTestConfig()
	templateID := 12
	cfg.TemplateID = &templateID
	env := createTestEnv(t, cfg, nil)
	env.store.meta[12] = map[string]string{models.MetaElementorData: deepTemplate(70)}

	res, err := env.service.Create(context.Background(), adaRequest())
	require.NoError(t, err)
	assert.True(t, res.FallbackTemplate)
	assert.Equal(t, int64(0), res.TemplateID)
	assert.Equal(t, 5, models.CountNodes(renderedTree(t, env, res.PageID)))
}

// ==========================
// Failures Before Any Write
// ==========================

func TestCreate_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
		field  string
	}{
		{"missing name", func(r *Request) { r.Name = "" }, "name"},
		{"markup-only name", func(r *Request) { r.Name = "<b></b>" }, "name"},
		{"punctuation in name", func(r *Request) { r.Name = "Ada!" }, "name"},
		{"missing email", func(r *Request) { r.Email = "" }, "email"},
		{"bad email", func(r *Request) { r.Email = "ada@" }, "email"},
		{"missing link", func(r *Request) { r.AffiliateLink = "" }, "affiliateLink"},
		{"relative link", func(r *Request) { r.AffiliateLink = "/p/1" }, "affiliateLink"},
		{"bad username", func(r *Request) { r.Username = "a" }, "username"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := createTestEnv(t, createTestConfig(), nil)
			req := adaRequest()
			tt.mutate(&req)

			_, err := env.service.Create(context.Background(), req)
			require.Error(t, err)
			stdErr := apperrors.Normalize(err)
			assert.Equal(t, apperrors.ErrCodeValidationFailed, stdErr.Code)
			assert.Equal(t, tt.field, stdErr.MetadataString("field"))
			assert.Empty(t, env.store.slugs())
			env.throttle.AssertNotCalled(t, "Check", mock.Anything, mock.Anything)
		})
	}
}

func TestCreate_LogoRequired(t *testing.T) {
	cfg := createTestConfig()
	cfg.RequireLogo = true
	env := createTestEnv(t, cfg, nil)

	_, err := env.service.Create(context.Background(), adaRequest())
	assert.Equal(t, "logo", apperrors.Normalize(err).MetadataString("field"))
}

func TestCreate_Throttled(t *testing.T) {
	env := createTestEnv(t, createTestConfig(), nil)
	env.throttle.ExpectedCalls = nil
	env.throttle.On("Check", mock.Anything, mock.Anything).Return(apperrors.NewSubmissionThrottledError("cookie"))

	_, err := env.service.Create(context.Background(), adaRequest())
	assert.Equal(t, apperrors.ErrCodeSubmissionThrottled, apperrors.CodeOf(err))
	assert.Empty(t, env.store.slugs())
}

func TestCreate_Provisioning(t *testing.T) {
	t.Run("provisioned username is used", func(t *testing.T) {
		prov := &mockProvisioner{}
		prov.On("Provision", mock.Anything, provisioning.Request{
			Username: "ada", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", IP: "1.2.3.4",
		}).Return(&provisioning.Result{Username: "ada1234", Attempts: 2}, nil)
		env := createTestEnv(t, createTestConfig(), prov)

		req := adaRequest()
		req.Username = "ada"
		req.AffiliateLink = "https://explodely.com/p/814557804?affiliate"
		res, err := env.service.Create(context.Background(), req)
		require.NoError(t, err)

		assert.Equal(t, "ada1234", res.Username)
		assert.Equal(t, "ada1234", env.store.pageMeta(res.PageID, models.MetaUsername))
		assert.Equal(t, "https://explodely.com/p/814557804?affiliate=ada1234",
			env.store.pageMeta(res.PageID, models.MetaAffiliateLink))
	})

	t.Run("provisioning failure creates nothing", func(t *testing.T) {
		prov := &mockProvisioner{}
		prov.On("Provision", mock.Anything, mock.Anything).
			Return(nil, apperrors.NewProvisioningError(provisioning.ReasonUsernameTaken, "Username already exists.", nil))
		env := createTestEnv(t, createTestConfig(), prov)

		req := adaRequest()
		req.Username = "ada"
		_, err := env.service.Create(context.Background(), req)
		assert.Equal(t, apperrors.ErrCodeProvisioningFailed, apperrors.CodeOf(err))
		assert.Empty(t, env.store.slugs())
	})
}

// ==========================
// Compensation
// ==========================

func TestCreate_RollsBackPartialPage(t *testing.T) {
	tests := []struct {
		name     string
		failOp   string
		withLogo bool
	}{
		{"meta write fails", "SetMetas", false},
		{"render tree write fails", "SetMeta:" + models.MetaElementorData, false},
		{"render tree write fails after logo upload", "SetMeta:" + models.MetaElementorData, true},
		{"page insert fails after logo upload", "CreatePage", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := createTestEnv(t, createTestConfig(), nil)
			uploader := &memoryUploader{store: env.store}
			env.service.deps.Uploader = uploader
			env.store.failOn[tt.failOp] = errDiskFull

			req := adaRequest()
			if tt.withLogo {
				req.Logo = &LogoFile{Reader: strings.NewReader("png"), Filename: "ada.png", Size: 3}
			}
			_, err := env.service.Create(context.Background(), req)
			require.Error(t, err)
			stdErr := apperrors.Normalize(err)
			assert.Equal(t, apperrors.ErrCodePersistenceFailed, stdErr.Code)
			assert.Equal(t, "Failed to save landing page. Please try again.", stdErr.Message)

			assert.Empty(t, env.store.slugs())
			assert.Empty(t, env.store.media)
			if tt.withLogo {
				assert.Len(t, uploader.removed, 1)
				assert.Len(t, uploader.discarded, 1)
			} else {
				assert.Empty(t, uploader.removed)
			}
			env.throttle.AssertNotCalled(t, "MarkSubmitted", mock.Anything, mock.Anything)
			env.index.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
		})
	}
}

func TestCreate_IndexFailureIsNonFatal(t *testing.T) {
	env := createTestEnv(t, createTestConfig(), nil)
	env.index.ExpectedCalls = nil
	env.index.On("Put", mock.Anything, mock.Anything).Return(pageindex.ErrIndexUnavailable)

	res, err := env.service.Create(context.Background(), adaRequest())
	require.NoError(t, err)
	assert.NotZero(t, res.PageID)
}

// ==========================
// Handler
// ==========================

func TestHandler_Execute(t *testing.T) {
	env := createTestEnv(t, createTestConfig(), nil)
	h, err := NewHandler(&Config{Enabled: true, MaxJobsActive: 1, Timeout: time.Second}, env.service, logger.NewTestLogger(t))
	require.NoError(t, err)

	out, err := h.Execute(context.Background(), &Input{
		Name:          "Grace Hopper",
		Email:         "grace@example.com",
		AffiliateLink: "https://explodely.com/p/1858795045?affiliate=grace",
		ClientIP:      "5.6.7.8",
	})
	require.NoError(t, err)
	assert.Equal(t, "grace-hopper", out.Slug)
	assert.True(t, containsAll(env.store.pageMeta(out.PageID, models.MetaElementorData), "Grace Hopper's Landing Page"))
	env.throttle.AssertCalled(t, "Check", mock.Anything, throttle.Visitor{IP: "5.6.7.8"})
}

func TestNewHandler_Validation(t *testing.T) {
	_, err := NewHandler(nil, nil, logger.NewTestLogger(t))
	assert.Error(t, err)

	_, err = NewHandler(&Config{MaxJobsActive: 0, Timeout: time.Second}, &Service{}, logger.NewTestLogger(t))
	assert.Error(t, err)
}

func TestGetInputSchema(t *testing.T) {
	schema := GetInputSchema()
	assert.ElementsMatch(t, []string{"name", "email", "affiliateLink"}, schema.Required)
	assert.True(t, schema.AdditionalProperties)
}
