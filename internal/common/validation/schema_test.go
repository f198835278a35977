package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(i int) *int { return &i }

func testSchema() JSONSchema {
	return JSONSchema{
		Type:     "object",
		Required: []string{"pageId", "submission"},
		Properties: map[string]Property{
			"pageId": {Type: "integer"},
			"submission": {
				Type:     "object",
				Required: []string{"displayName"},
				Properties: map[string]Property{
					"displayName": {Type: "string", MinLength: intPtr(1)},
				},
			},
			"mode": {Type: "string", Enum: []string{"create", "update"}},
		},
	}
}

func TestValidateInput(t *testing.T) {
	tests := []struct {
		name       string
		input      map[string]interface{}
		wantValid  bool
		wantFields []string
	}{
		{
			name: "valid input with float-encoded integer",
			input: map[string]interface{}{
				"pageId":     float64(12),
				"submission": map[string]interface{}{"displayName": "Ada"},
			},
			wantValid: true,
		},
		{
			name:       "missing required",
			input:      map[string]interface{}{"pageId": float64(1)},
			wantFields: []string{"submission"},
		},
		{
			name: "fractional integer",
			input: map[string]interface{}{
				"pageId":     1.5,
				"submission": map[string]interface{}{"displayName": "Ada"},
			},
			wantFields: []string{"pageId"},
		},
		{
			name: "nested required",
			input: map[string]interface{}{
				"pageId":     float64(1),
				"submission": map[string]interface{}{},
			},
			wantFields: []string{"submission.displayName"},
		},
		{
			name: "enum and extra field",
			input: map[string]interface{}{
				"pageId":     float64(1),
				"submission": map[string]interface{}{"displayName": "Ada"},
				"mode":       "delete",
				"other":      true,
			},
			wantFields: []string{"mode", "other"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateInput(tt.input, testSchema())
			assert.Equal(t, tt.wantValid, result.Valid, result.GetErrorMessages())
			for _, f := range tt.wantFields {
				assert.True(t, result.HasErrors(f), "expected error for %s, got %v", f, result.GetErrorMessages())
			}
		})
	}
}

func TestFieldRules(t *testing.T) {
	assert.True(t, ValidateEmail("ada@example.com"))
	assert.False(t, ValidateEmail("ada@"))

	assert.True(t, ValidateDisplayName("Ada Lovelace 2"))
	assert.False(t, ValidateDisplayName("Ada <b>"))
	assert.False(t, ValidateDisplayName(""))

	assert.True(t, ValidateUsername("ada_l"))
	assert.False(t, ValidateUsername("a"))

	assert.True(t, ValidateHTTPURL("https://explodely.com/p/814557804?affiliate=ada"))
	assert.False(t, ValidateHTTPURL("ftp://example.com"))
	assert.False(t, ValidateHTTPURL("/relative/path"))
	assert.False(t, ValidateHTTPURL("https://"))
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", SanitizeText("  <b>Ada</b> Lovelace "))
	assert.Equal(t, "", SanitizeText("<script>alert(1)</script>"))
	assert.Equal(t, "Tom & Jerry", SanitizeText("Tom & Jerry"))
}

func TestValidateInput_NullIsAbsent(t *testing.T) {
	schema := JSONSchema{
		Type:     "object",
		Required: []string{"pageId"},
		Properties: map[string]Property{
			"pageId": {Type: "integer"},
			"logoId": {Type: "integer"},
		},
		AdditionalProperties: true,
	}

	assert.True(t, ValidateInput(map[string]interface{}{"pageId": float64(3), "logoId": nil}, schema).Valid)

	result := ValidateInput(map[string]interface{}{"pageId": nil}, schema)
	assert.False(t, result.Valid)
	assert.True(t, result.HasErrors("pageId"))
	assert.Equal(t, "REQUIRED", result.Errors[0].Code)
}
