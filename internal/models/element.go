// internal/models/element.go
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Element kinds.
const (
	ElTypeSection = "section"
	ElTypeColumn  = "column"
	ElTypeWidget  = "widget"
)

// Widget subtypes the transformer special-cases.
const (
	WidgetImage      = "image"
	WidgetButton     = "button"
	WidgetHeading    = "heading"
	WidgetHTML       = "html"
	WidgetTextEditor = "text-editor"
)

var ErrNotForest = errors.New("element tree root is not a list")

// Settings is the free-form settings bag of an element.
type Settings map[string]interface{}

// String returns the string value at key.
func (s Settings) String(key string) (string, bool) {
	v, ok := s[key].(string)
	return v, ok
}

// Map returns the nested map at key.
func (s Settings) Map(key string) (map[string]interface{}, bool) {
	v, ok := s[key].(map[string]interface{})
	return v, ok
}

// ElementNode is one node of a page-builder render tree. Keys the service
// does not model (isInner, editSettings, ...) are kept in Extra and written
// back unchanged.
type ElementNode struct {
	ID         string
	ElType     string
	WidgetType string
	Settings   Settings
	Elements   []ElementNode
	Extra      map[string]json.RawMessage

	settingsAsList bool
}

var knownKeys = map[string]bool{
	"id":         true,
	"elType":     true,
	"widgetType": true,
	"settings":   true,
	"elements":   true,
}

func (n *ElementNode) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*n = ElementNode{}

	if v, ok := raw["id"]; ok {
		if err := json.Unmarshal(v, &n.ID); err != nil {
			return fmt.Errorf("element id: %w", err)
		}
	}
	if v, ok := raw["elType"]; ok {
		if err := json.Unmarshal(v, &n.ElType); err != nil {
			return fmt.Errorf("element %s elType: %w", n.ID, err)
		}
	}
	if v, ok := raw["widgetType"]; ok {
		if err := json.Unmarshal(v, &n.WidgetType); err != nil {
			return fmt.Errorf("element %s widgetType: %w", n.ID, err)
		}
	}

	if v, ok := raw["settings"]; ok {
		trimmed := bytes.TrimSpace(v)
		switch {
		case len(trimmed) > 0 && trimmed[0] == '[':
			// empty settings are serialized as [] by the page builder
			n.settingsAsList = true
			n.Settings = Settings{}
		case bytes.Equal(trimmed, []byte("null")):
		default:
			dec := json.NewDecoder(bytes.NewReader(trimmed))
			dec.UseNumber()
			var s map[string]interface{}
			if err := dec.Decode(&s); err != nil {
				return fmt.Errorf("element %s settings: %w", n.ID, err)
			}
			n.Settings = s
		}
	}

	if v, ok := raw["elements"]; ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		if err := json.Unmarshal(v, &n.Elements); err != nil {
			return fmt.Errorf("element %s children: %w", n.ID, err)
		}
	}

	for k, v := range raw {
		if knownKeys[k] {
			continue
		}
		if n.Extra == nil {
			n.Extra = make(map[string]json.RawMessage)
		}
		n.Extra[k] = v
	}

	return nil
}

func (n ElementNode) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(n.Extra)+5)
	for k, v := range n.Extra {
		out[k] = v
	}

	out["id"] = n.ID
	out["elType"] = n.ElType
	if n.WidgetType != "" {
		out["widgetType"] = n.WidgetType
	}

	switch {
	case n.settingsAsList && len(n.Settings) == 0:
		out["settings"] = []interface{}{}
	case n.Settings == nil:
		out["settings"] = map[string]interface{}{}
	default:
		out["settings"] = map[string]interface{}(n.Settings)
	}

	if n.Elements == nil {
		out["elements"] = []ElementNode{}
	} else {
		out["elements"] = n.Elements
	}

	return json.Marshal(out)
}

// DecodeForest parses a serialized render tree. A root that is not a JSON
// array yields ErrNotForest.
func DecodeForest(raw []byte) ([]ElementNode, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNotForest
	}
	var forest []ElementNode
	if err := json.Unmarshal(trimmed, &forest); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotForest, err)
	}
	return forest, nil
}

// EncodeForest serializes a render tree. A nil forest encodes as [].
func EncodeForest(forest []ElementNode) ([]byte, error) {
	if forest == nil {
		forest = []ElementNode{}
	}
	return json.Marshal(forest)
}

// CountNodes returns the number of nodes in the forest.
func CountNodes(forest []ElementNode) int {
	n := 0
	for i := range forest {
		n += 1 + CountNodes(forest[i].Elements)
	}
	return n
}
