package pco

import (
	"encoding/json"
	"fmt"
)

// Document is a top-level JSON:API response. Data may hold a single primary
// resource or a list; Resources normalizes both.
type Document struct {
	Data     json.RawMessage `json:"data,omitempty"`
	Included []Resource      `json:"included,omitempty"`
	Links    map[string]any  `json:"links,omitempty"`
	Meta     json.RawMessage `json:"meta,omitempty"`
	Errors   json.RawMessage `json:"errors,omitempty"`
}

// NextLink returns the pagination next link, or "" when absent or null.
func (d *Document) NextLink() string {
	if v, ok := d.Links["next"].(string); ok {
		return v
	}
	return ""
}

// Resource is one JSON:API resource object.
type Resource struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id"`
	Attributes    map[string]any          `json:"attributes"`
	Relationships map[string]Relationship `json:"relationships"`
}

// Relationship holds the linkage data of one named relationship.
type Relationship struct {
	Data ResourceLinkages `json:"data"`
}

// ResourceLinkage is a (type, id) reference to another resource.
type ResourceLinkage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ResourceLinkages accepts both to-one (object) and to-many (array) linkage,
// normalizing to a slice. null decodes to an empty slice.
type ResourceLinkages []ResourceLinkage

// UnmarshalJSON implements json.Unmarshaler.
func (l *ResourceLinkages) UnmarshalJSON(data []byte) error {
	*l = nil

	trimmed := string(data)
	if trimmed == "null" {
		return nil
	}

	if len(data) > 0 && data[0] == '[' {
		var many []ResourceLinkage
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*l = many
		return nil
	}

	var one ResourceLinkage
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*l = ResourceLinkages{one}
	return nil
}

// Resources returns the primary resources of the document, whether data was a
// single object or a list. A missing or null data member yields nil.
func (d *Document) Resources() ([]Resource, error) {
	raw := string(d.Data)
	if len(d.Data) == 0 || raw == "null" {
		return nil, nil
	}

	if d.Data[0] == '[' {
		var many []Resource
		if err := json.Unmarshal(d.Data, &many); err != nil {
			return nil, fmt.Errorf("decoding primary resources: %w", err)
		}
		return many, nil
	}

	var one Resource
	if err := json.Unmarshal(d.Data, &one); err != nil {
		return nil, fmt.Errorf("decoding primary resource: %w", err)
	}
	return []Resource{one}, nil
}

// IncludedIndex maps "{type}:{id}" to a side-loaded resource. It is built
// fresh per response; references that miss the index degrade to absent values,
// never errors.
type IncludedIndex map[string]Resource

// BuildIncludedIndex indexes the included resources of a response.
func BuildIncludedIndex(included []Resource) IncludedIndex {
	idx := make(IncludedIndex, len(included))
	for _, res := range included {
		idx[includedKey(res.Type, res.ID)] = res
	}
	return idx
}

func includedKey(resourceType, id string) string {
	return resourceType + ":" + id
}

// CollectRelated resolves the linkage list of the named relationship against
// the index. Missing relationships and dangling references are skipped.
func CollectRelated(res Resource, idx IncludedIndex, relationship string) []Resource {
	rel, ok := res.Relationships[relationship]
	if !ok {
		return nil
	}

	var out []Resource
	for _, ref := range rel.Data {
		if inc, ok := idx[includedKey(ref.Type, ref.ID)]; ok {
			out = append(out, inc)
		}
	}
	return out
}

// attrString returns a string attribute, or "" when absent or not a string.
func attrString(res Resource, name string) string {
	if v, ok := res.Attributes[name].(string); ok {
		return v
	}
	return ""
}

// attrStringPtr returns a string attribute, or nil when absent or null so the
// flattened output keeps the upstream's nulls.
func attrStringPtr(res Resource, name string) *string {
	if v, ok := res.Attributes[name].(string); ok {
		return &v
	}
	return nil
}

// attrIntPtr returns a numeric attribute as an int pointer, or nil when
// absent. JSON numbers decode as float64.
func attrIntPtr(res Resource, name string) *int {
	if v, ok := res.Attributes[name].(float64); ok {
		n := int(v)
		return &n
	}
	return nil
}

// collectAttrStrings extracts one string attribute from each related resource,
// skipping resources where the attribute is absent or empty.
func collectAttrStrings(related []Resource, attr string) []string {
	out := []string{}
	for _, res := range related {
		if v := attrString(res, attr); v != "" {
			out = append(out, v)
		}
	}
	return out
}
