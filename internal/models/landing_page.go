// internal/models/landing_page.go
package models

import "time"

// Page meta keys written by the landing page pipeline.
const (
	MetaName          = "_dsmk_name"
	MetaEmail         = "_dsmk_email"
	MetaLogoID        = "_dsmk_logo_id"
	MetaUsername      = "_dsmk_username"
	MetaAffiliateLink = "_dsmk_affiliate_link"
	MetaHasCustomLogo = "_dsmk_has_custom_logo"
	MetaIsLandingPage = "_is_dsmk_landing_page"

	MetaElementorData         = "_elementor_data"
	MetaElementorEditMode     = "_elementor_edit_mode"
	MetaElementorTemplateType = "_elementor_template_type"
	MetaElementorVersion      = "_elementor_version"
	MetaElementorCSS          = "_elementor_css"
	MetaPageTemplate          = "_wp_page_template"
	MetaPostContent           = "post_content"
)

const (
	PageStatusPublish  = "publish"
	PageTemplateCanvas = "elementor_canvas"
)

type LandingPage struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Slug          string    `json:"slug"`
	AuthorID      int64     `json:"authorId"`
	Status        string    `json:"status"`
	URL           string    `json:"url,omitempty"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Username      string    `json:"username,omitempty"`
	AffiliateLink string    `json:"affiliateLink"`
	LogoID        int64     `json:"logoId"`
	HasCustomLogo bool      `json:"hasCustomLogo"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type MediaAsset struct {
	ID        int64     `json:"id"`
	Path      string    `json:"path"`
	URL       string    `json:"url"`
	MimeType  string    `json:"mimeType"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
