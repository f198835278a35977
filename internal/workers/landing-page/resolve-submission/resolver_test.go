package resolvesubmission

import (
	"context"
	stderrors "errors"
	"testing"

	apperrors "dynamic-site-maker/internal/common/errors"
	"dynamic-site-maker/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type mockMediaStore struct {
	mock.Mock
}

func (m *mockMediaStore) MediaExists(ctx context.Context, mediaID int64) (bool, error) {
	args := m.Called(ctx, mediaID)
	return args.Bool(0), args.Error(1)
}

func (m *mockMediaStore) GetMediaURL(ctx context.Context, mediaID int64) (string, error) {
	args := m.Called(ctx, mediaID)
	return args.String(0), args.Error(1)
}

func createTestHandler(t *testing.T, media *mockMediaStore) *Handler {
	log := logger.NewTestLogger(t)
	h, err := NewHandler(HandlerOptions{Resolver: NewResolver(media, log), Logger: log})
	require.NoError(t, err)
	return h
}

// ==========================
// Affiliate Link Completion
// ==========================

func TestCompleteAffiliateLink(t *testing.T) {
	tests := []struct {
		name     string
		link     string
		username string
		want     string
	}{
		{"appends with equals", "https://explodely.com/p/1?affiliate", "ada", "https://explodely.com/p/1?affiliate=ada"},
		{"keeps existing equals", "https://explodely.com/p/1?affiliate=", "ada", "https://explodely.com/p/1?affiliate=ada"},
		{"already contains username", "https://explodely.com/p/1?affiliate=ada", "ada", "https://explodely.com/p/1?affiliate=ada"},
		{"no username", "https://explodely.com/p/1", "", "https://explodely.com/p/1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompleteAffiliateLink(tt.link, tt.username))
		})
	}
}

// ==========================
// Logo Gate
// ==========================

func TestBuildSubmissionRecord_LogoGate(t *testing.T) {
	ctx := context.Background()

	t.Run("no logo id skips the media store", func(t *testing.T) {
		media := &mockMediaStore{}
		r := NewResolver(media, logger.NewTestLogger(t))

		rec, err := r.BuildSubmissionRecord(ctx, "Ada", "https://x/814557804", 0)
		require.NoError(t, err)
		assert.Nil(t, rec.Logo)
		assert.Equal(t, "$97", rec.DerivedPrice)
		media.AssertNotCalled(t, "MediaExists", mock.Anything, mock.Anything)
	})

	t.Run("existing logo resolves", func(t *testing.T) {
		media := &mockMediaStore{}
		media.On("MediaExists", ctx, int64(42)).Return(true, nil)
		media.On("GetMediaURL", ctx, int64(42)).Return("https://cdn/ada.png", nil)
		r := NewResolver(media, logger.NewTestLogger(t))

		rec, err := r.BuildSubmissionRecord(ctx, "Ada", "https://x/1858795045", 42)
		require.NoError(t, err)
		require.NotNil(t, rec.Logo)
		assert.Equal(t, int64(42), rec.Logo.ID)
		assert.Equal(t, "https://cdn/ada.png", rec.Logo.URL)
		assert.True(t, rec.HasCustomLogo())
		assert.Equal(t, "$57", rec.DerivedPrice)
		media.AssertExpectations(t)
	})

	t.Run("missing asset falls back to default", func(t *testing.T) {
		media := &mockMediaStore{}
		media.On("MediaExists", ctx, int64(42)).Return(false, nil)
		r := NewResolver(media, logger.NewTestLogger(t))

		rec, err := r.BuildSubmissionRecord(ctx, "Ada", "https://x", 42)
		require.NoError(t, err)
		assert.False(t, rec.HasCustomLogo())
		media.AssertNotCalled(t, "GetMediaURL", mock.Anything, mock.Anything)
	})

	t.Run("asset without url falls back to default", func(t *testing.T) {
		media := &mockMediaStore{}
		media.On("MediaExists", ctx, int64(42)).Return(true, nil)
		media.On("GetMediaURL", ctx, int64(42)).Return("", nil)
		r := NewResolver(media, logger.NewTestLogger(t))

		rec, err := r.BuildSubmissionRecord(ctx, "Ada", "https://x", 42)
		require.NoError(t, err)
		assert.Nil(t, rec.Logo)
	})

	t.Run("store failure is a persistence error", func(t *testing.T) {
		media := &mockMediaStore{}
		media.On("MediaExists", ctx, int64(42)).Return(false, stderrors.New("connection reset"))
		r := NewResolver(media, logger.NewTestLogger(t))

		_, err := r.BuildSubmissionRecord(ctx, "Ada", "https://x", 42)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodePersistenceFailed, apperrors.CodeOf(err))
	})
}

// ==========================
// Execute
// ==========================

func TestHandler_Execute(t *testing.T) {
	ctx := context.Background()
	media := &mockMediaStore{}
	media.On("MediaExists", ctx, int64(7)).Return(true, nil)
	media.On("GetMediaURL", ctx, int64(7)).Return("https://cdn/logo.png", nil)
	h := createTestHandler(t, media)

	out, err := h.Execute(ctx, &Input{
		Name:          "Ada Lovelace",
		AffiliateLink: "https://explodely.com/p/298281289?affiliate",
		Username:      "ada",
		LogoID:        7,
	})
	require.NoError(t, err)

	assert.Equal(t, "https://explodely.com/p/298281289?affiliate=ada", out.AffiliateLink)
	assert.Equal(t, out.AffiliateLink, out.Submission.AffiliateURL)
	assert.Equal(t, "$67", out.Submission.DerivedPrice)
	assert.True(t, out.HasCustomLogo)
}

func TestHandler_Execute_Validation(t *testing.T) {
	h := createTestHandler(t, &mockMediaStore{})

	tests := []struct {
		name  string
		input Input
		field string
	}{
		{"missing name", Input{AffiliateLink: "https://x.example"}, "name"},
		{"relative link", Input{Name: "Ada", AffiliateLink: "/p/1"}, "affiliateLink"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Execute(context.Background(), &tt.input)
			require.Error(t, err)
			stdErr := apperrors.Normalize(err)
			assert.Equal(t, apperrors.ErrCodeValidationFailed, stdErr.Code)
			assert.Equal(t, tt.field, stdErr.MetadataString("field"))
		})
	}
}

func TestNewHandler_RequiresResolver(t *testing.T) {
	_, err := NewHandler(HandlerOptions{Logger: logger.NewTestLogger(t)})
	assert.Error(t, err)
}
