package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRegistry() *ActivityRegistry {
	return &ActivityRegistry{
		Version: "1.0.0",
		Activities: []Activity{
			{ID: "create-landing-page", DisplayName: "Create Landing Page", TaskType: "create-landing-page", Timeout: "60s"},
			{ID: "transform-template", DisplayName: "Transform Template", TaskType: "transform-template", Timeout: "10s"},
		},
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "activity-registry.json")
	require.NoError(t, Save(sampleRegistry(), path))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Len(t, reg.Activities, 2)
	assert.NotEmpty(t, reg.LastUpdated)

	a, ok := reg.Find("transform-template")
	require.True(t, ok)
	assert.Equal(t, "Transform Template", a.DisplayName)
}

func TestUpsertAndMissing(t *testing.T) {
	reg := sampleRegistry()
	reg.Upsert(Activity{ID: "create-landing-page", DisplayName: "Create", TaskType: "create-landing-page"})
	reg.Upsert(Activity{ID: "find-landing-page", DisplayName: "Find", TaskType: "find-landing-page"})

	require.Len(t, reg.Activities, 3)
	a, _ := reg.Find("create-landing-page")
	assert.Equal(t, "Create", a.DisplayName)

	assert.Equal(t, []string{"provision-username", "update-landing-page"},
		reg.Missing([]string{"update-landing-page", "find-landing-page", "provision-username"}))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ActivityRegistry)
		wantErr string
	}{
		{"valid", func(*ActivityRegistry) {}, ""},
		{"empty", func(r *ActivityRegistry) { r.Activities = nil }, "no activities"},
		{"duplicate id", func(r *ActivityRegistry) { r.Activities[1].ID = r.Activities[0].ID }, "duplicate activity id"},
		{"duplicate task type", func(r *ActivityRegistry) { r.Activities[1].TaskType = r.Activities[0].TaskType }, "duplicate task type"},
		{"missing display name", func(r *ActivityRegistry) { r.Activities[0].DisplayName = "" }, "displayName"},
		{"bad timeout", func(r *ActivityRegistry) { r.Activities[0].Timeout = "soon" }, "invalid timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := sampleRegistry()
			tt.mutate(reg)
			err := reg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
