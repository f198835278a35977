// internal/models/submission.go
package models

// LogoReference points at a stored media asset.
type LogoReference struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// SubmissionRecord carries the per-page values substituted into a template.
// It is rebuilt from page meta on every edit and never stored on its own.
type SubmissionRecord struct {
	DisplayName  string         `json:"displayName"`
	Logo         *LogoReference `json:"logoReference,omitempty"`
	AffiliateURL string         `json:"affiliateUrl"`
	DerivedPrice string         `json:"derivedPrice"`
}

// HasCustomLogo reports whether a concrete logo replaces the template artwork.
func (s SubmissionRecord) HasCustomLogo() bool {
	return s.Logo != nil && s.Logo.ID > 0 && s.Logo.URL != ""
}
