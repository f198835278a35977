package transformtemplate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"dynamic-site-maker/internal/models"
)

// MaxDepth is the deepest nesting accepted before a tree is treated as malformed.
const MaxDepth = 64

var ErrMalformedTemplate = errors.New("MALFORMED_TEMPLATE")

// hrefPattern matches a standalone href attribute; group 1 is the attribute.
var hrefPattern = regexp.MustCompile(`(?:^|[\s<])(href\s*=\s*(?:"[^"]*"|'[^']*'))`)

// Stats counts rewrites per slot.
type Stats map[string]int

// Total returns the number of rewrites across all slots.
func (s Stats) Total() int {
	n := 0
	for _, v := range s {
		n += v
	}
	return n
}

// Transform returns a copy of tree with the tagged slots rewritten for sub.
// The input is never modified. Nodes whose settings need no change keep the
// original settings map. On error the input tree is returned unchanged.
func Transform(tree []models.ElementNode, sub models.SubmissionRecord) ([]models.ElementNode, error) {
	out, _, err := TransformWithStats(tree, sub)
	return out, err
}

// TransformWithStats is Transform plus per-slot rewrite counts.
func TransformWithStats(tree []models.ElementNode, sub models.SubmissionRecord) ([]models.ElementNode, Stats, error) {
	w := &walker{sub: sub, stats: Stats{}}
	out, err := w.forest(tree, 1)
	if err != nil {
		return tree, Stats{}, err
	}
	return out, w.stats, nil
}

// TransformJSON transforms a serialized render tree. A root that is not a
// list of elements is returned unchanged together with ErrMalformedTemplate.
func TransformJSON(raw []byte, sub models.SubmissionRecord) ([]byte, Stats, error) {
	if err := ValidateForestShape(raw); err != nil {
		return raw, Stats{}, err
	}

	forest, err := models.DecodeForest(raw)
	if err != nil {
		return raw, Stats{}, fmt.Errorf("%w: %v", ErrMalformedTemplate, err)
	}

	out, stats, err := TransformWithStats(forest, sub)
	if err != nil {
		return raw, Stats{}, err
	}

	encoded, err := models.EncodeForest(out)
	if err != nil {
		return raw, Stats{}, fmt.Errorf("%w: encode: %v", ErrMalformedTemplate, err)
	}
	return encoded, stats, nil
}

// UnresolvedTokens returns the placeholder tokens still present anywhere in
// the forest's settings, sorted.
func UnresolvedTokens(tree []models.ElementNode) []string {
	found := map[string]bool{}
	var visit func(v interface{})
	visit = func(v interface{}) {
		switch t := v.(type) {
		case string:
			for _, tok := range AllTokens {
				if strings.Contains(t, tok) {
					found[tok] = true
				}
			}
		case map[string]interface{}:
			for _, child := range t {
				visit(child)
			}
		case []interface{}:
			for _, child := range t {
				visit(child)
			}
		}
	}

	var walk func(nodes []models.ElementNode)
	walk = func(nodes []models.ElementNode) {
		for i := range nodes {
			visit(map[string]interface{}(nodes[i].Settings))
			walk(nodes[i].Elements)
		}
	}
	walk(tree)

	out := make([]string, 0, len(found))
	for tok := range found {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

type walker struct {
	sub   models.SubmissionRecord
	stats Stats
}

func (w *walker) forest(nodes []models.ElementNode, depth int) ([]models.ElementNode, error) {
	if nodes == nil {
		return nil, nil
	}
	out := make([]models.ElementNode, len(nodes))
	for i := range nodes {
		n, err := w.node(nodes[i], depth)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// node applies the rules to n, then descends into its children.
func (w *walker) node(n models.ElementNode, depth int) (models.ElementNode, error) {
	if depth > MaxDepth {
		return n, fmt.Errorf("%w: element %q nested deeper than %d levels", ErrMalformedTemplate, n.ID, MaxDepth)
	}

	out := n
	if settings, changed := w.rewrite(n); changed {
		out.Settings = settings
	}

	children, err := w.forest(n.Elements, depth+1)
	if err != nil {
		return n, err
	}
	out.Elements = children
	return out, nil
}

// rewrite works on a deep copy of the settings and reports whether the copy
// differs from the original.
func (w *walker) rewrite(n models.ElementNode) (models.Settings, bool) {
	if len(n.Settings) == 0 {
		return nil, false
	}

	s := cloneMap(n.Settings)
	pending := Stats{}

	subtype := ""
	if n.ElType == models.ElTypeWidget {
		subtype = n.WidgetType
	}

	switch subtype {
	case models.WidgetImage:
		// images only ever get the logo rule
		w.applyLogo(s, pending)
	case models.WidgetButton:
		w.applyButton(s, pending)
		w.applyPlaceholders(s, pending)
	case models.WidgetHTML:
		w.applyHTML(s, pending)
		w.applyPlaceholders(s, pending)
	default:
		w.applyPlaceholders(s, pending)
	}

	if sameSettings(n.Settings, s) {
		return nil, false
	}
	for slot, c := range pending {
		w.stats[slot] += c
	}
	return s, true
}

func (w *walker) applyLogo(s map[string]interface{}, stats Stats) {
	if !w.sub.HasCustomLogo() {
		return
	}
	if matchTag(s, logoTagFields, MarkerLogo) == "" {
		return
	}

	img, ok := s[keyImage].(map[string]interface{})
	if !ok {
		img = map[string]interface{}{}
		s[keyImage] = img
	}
	img["id"] = w.sub.Logo.ID
	img[keyURL] = w.sub.Logo.URL
	if _, ok := img["source"]; ok {
		img["source"] = "library"
	}
	delete(img, "default")
	stats[SlotLogo]++
}

func (w *walker) applyButton(s map[string]interface{}, stats Stats) {
	if text, ok := s[keyText].(string); ok && strings.Contains(text, ReserveSeatPhrase) {
		s[keyText] = ReserveSeatPhrase + " For " + w.sub.DerivedPrice
		stats[SlotPrice]++
	}

	link, hasLink := s[keyLink].(map[string]interface{})
	tagged := matchTag(s, affiliateTagFields, MarkerAffiliate) != ""
	placeholder := hasLink && link[keyURL] == TokenAffiliateLink
	if !tagged && !placeholder {
		return
	}

	if !hasLink {
		link = map[string]interface{}{}
		s[keyLink] = link
	}
	link[keyURL] = w.sub.AffiliateURL
	link[keyIsExternal] = true
	link[keyNoFollow] = true
	stats[SlotAffiliate]++
}

func (w *walker) applyHTML(s map[string]interface{}, stats Stats) {
	payload, ok := s[keyHTML].(string)
	if !ok || !strings.Contains(payload, MarkerAffiliate) {
		return
	}

	loc := hrefPattern.FindStringSubmatchIndex(payload)
	if loc == nil {
		return
	}
	start, end := loc[2], loc[3]
	quote := payload[end-1 : end]
	replacement := "href=" + quote + html.EscapeString(w.sub.AffiliateURL) + quote

	s[keyHTML] = payload[:start] + replacement + payload[end:]
	stats[SlotHTMLHref]++
}

// applyPlaceholders substitutes {{name}} in text settings and
// {{affiliate_link}} in any link-shaped setting.
func (w *walker) applyPlaceholders(s map[string]interface{}, stats Stats) {
	for _, key := range nameKeys {
		v, ok := s[key].(string)
		if !ok || !strings.Contains(v, TokenName) {
			continue
		}
		s[key] = strings.ReplaceAll(v, TokenName, w.sub.DisplayName)
		stats[SlotName]++
	}

	for key, v := range s {
		if key == keyImage {
			continue
		}
		link, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		url, ok := link[keyURL].(string)
		if !ok || !strings.Contains(url, TokenAffiliateLink) {
			continue
		}
		link[keyURL] = strings.ReplaceAll(url, TokenAffiliateLink, w.sub.AffiliateURL)
		stats[SlotAffiliateLink]++
	}
}

// sameSettings compares settings by value. Decoded numbers are json.Number
// while rewritten ids are int64, so both sides are compared as JSON.
func sameSettings(a, b map[string]interface{}) bool {
	x, errA := json.Marshal(a)
	y, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return bytes.Equal(x, y)
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
