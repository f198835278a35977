package transformtemplate

import "strings"

// Slot marker tokens carried in element settings.
const (
	MarkerLogo      = "dsmk-logo"
	MarkerAffiliate = "dsmk-affiliate"
)

// Placeholder tokens. Case-sensitive, no inner whitespace.
const (
	TokenName          = "{{name}}"
	TokenLogoID        = "{{logo_id}}"
	TokenLogoURL       = "{{logo_url}}"
	TokenAffiliateLink = "{{affiliate_link}}"
)

// ReserveSeatPhrase marks button copy that gets the derived price appended.
const ReserveSeatPhrase = "Reserve Your Seat"

// Settings keys.
const (
	keyCSSClasses = "_css_classes"
	keyElementID  = "_element_id"
	keyCSSID      = "css_id"
	keyImage      = "image"
	keyLink       = "link"
	keyText       = "text"
	keyHTML       = "html"
	keyURL        = "url"
	keyIsExternal = "is_external"
	keyNoFollow   = "nofollow"
)

// Slot names used in rewrite statistics.
const (
	SlotLogo          = "logo"
	SlotAffiliate     = "affiliate_button"
	SlotPrice         = "price_text"
	SlotHTMLHref      = "html_href"
	SlotName          = "name"
	SlotAffiliateLink = "affiliate_link"
)

type matchMode int

const (
	matchContains matchMode = iota
	matchEquals
)

type tagField struct {
	key  string
	mode matchMode
}

// logoTagFields is checked in order; the first match wins.
var logoTagFields = []tagField{
	{key: keyCSSClasses, mode: matchContains},
	{key: keyElementID, mode: matchEquals},
	{key: keyCSSID, mode: matchEquals},
}

var affiliateTagFields = []tagField{
	{key: keyCSSClasses, mode: matchContains},
}

// nameKeys are the text settings that receive {{name}} substitution.
var nameKeys = []string{"title", "text", "editor", "title_text", "description_text"}

// AllTokens lists every placeholder token.
var AllTokens = []string{TokenName, TokenLogoID, TokenLogoURL, TokenAffiliateLink}

// matchTag returns the key of the first field in fields whose value carries
// marker, or "" when none does.
func matchTag(settings map[string]interface{}, fields []tagField, marker string) string {
	for _, f := range fields {
		v, ok := settings[f.key].(string)
		if !ok {
			continue
		}
		switch f.mode {
		case matchContains:
			if strings.Contains(v, marker) {
				return f.key
			}
		case matchEquals:
			if v == marker {
				return f.key
			}
		}
	}
	return ""
}
