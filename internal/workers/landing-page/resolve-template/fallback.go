package resolvetemplate

import (
	"strings"

	"dynamic-site-maker/internal/models"
)

const defaultLogoPath = "/assets/images/default-logo.png"

// FallbackTree is the built-in template used when no library template can be
// loaded: one section, one column, and a heading, image and button carrying
// the placeholder tokens.
func FallbackTree(defaultLogoID int64, defaultLogoURL string) []models.ElementNode {
	return []models.ElementNode{
		{
			ID:     "unique_section_id",
			ElType: models.ElTypeSection,
			Settings: models.Settings{
				"layout": "full_width",
				"gap":    "no",
			},
			Elements: []models.ElementNode{
				{
					ID:       "unique_column_id",
					ElType:   models.ElTypeColumn,
					Settings: models.Settings{"_column_size": 100},
					Elements: []models.ElementNode{
						{
							ID:         "unique_heading_id",
							ElType:     models.ElTypeWidget,
							WidgetType: models.WidgetHeading,
							Settings: models.Settings{
								"title": "{{name}}'s Landing Page",
								"align": "center",
								"size":  "xl",
							},
						},
						{
							ID:         "unique_image_id",
							ElType:     models.ElTypeWidget,
							WidgetType: models.WidgetImage,
							Settings: models.Settings{
								"image": map[string]interface{}{
									"id":  "{{logo_id}}",
									"url": "{{logo_url}}",
									"default": map[string]interface{}{
										"id":  defaultLogoID,
										"url": defaultLogoURL,
									},
								},
								"align": "center",
							},
						},
						{
							ID:         "unique_button_id",
							ElType:     models.ElTypeWidget,
							WidgetType: models.WidgetButton,
							Settings: models.Settings{
								"text": "Visit Affiliate Link",
								"link": map[string]interface{}{
									"url":         "{{affiliate_link}}",
									"is_external": "true",
									"nofollow":    "true",
								},
								"align": "center",
								"size":  "lg",
							},
						},
					},
				},
			},
		},
	}
}

// bundledLogoURL is the logo shipped with the service's static assets.
func bundledLogoURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + defaultLogoPath
}
