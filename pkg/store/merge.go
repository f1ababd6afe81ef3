package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"writecheck/pkg/domain"
)

var errPatchID = errors.New("patch id missing or invalid")

// Patch is a partial writing keyed by id. A field is part of the patch when
// its key was present in the payload, including an explicit null.
type Patch struct {
	ID     int64
	fields map[string]json.RawMessage
}

// ParsePatch decodes a JSON object shaped like a (partial) writing.
func ParsePatch(data []byte) (Patch, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return Patch{}, fmt.Errorf("decode patch: %w", err)
	}
	raw, ok := fields["id"]
	if !ok {
		return Patch{}, errPatchID
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil || id == 0 {
		return Patch{}, errPatchID
	}
	return Patch{ID: id, fields: fields}, nil
}

// PatchFromWriting builds a patch carrying every serialized field of w.
// Fields omitted by their json tags (e.g. empty grammar_errors) stay absent.
func PatchFromWriting(w domain.Writing) Patch {
	data, err := json.Marshal(w)
	if err != nil {
		return Patch{ID: w.ID}
	}
	p, err := ParsePatch(data)
	if err != nil {
		return Patch{ID: w.ID}
	}
	return p
}

// Has reports whether the patch carries field (by its json name).
func (p Patch) Has(field string) bool {
	_, ok := p.fields[field]
	return ok
}

// Fields returns the json names carried by the patch.
func (p Patch) Fields() []string {
	out := make([]string, 0, len(p.fields))
	for k := range p.fields {
		out = append(out, k)
	}
	return out
}

// Merge applies p to existing field by field: every field present in p
// overwrites, absent fields are left untouched. A present null resets the
// field to its zero value.
func Merge(existing domain.Writing, p Patch) (domain.Writing, error) {
	base := map[string]json.RawMessage{}
	data, err := json.Marshal(existing)
	if err != nil {
		return existing, fmt.Errorf("encode writing: %w", err)
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return existing, fmt.Errorf("decode writing: %w", err)
	}
	for k, v := range p.fields {
		base[k] = v
	}
	merged, err := json.Marshal(base)
	if err != nil {
		return existing, fmt.Errorf("encode merged: %w", err)
	}
	var out domain.Writing
	if err := json.Unmarshal(merged, &out); err != nil {
		return existing, fmt.Errorf("decode merged: %w", err)
	}
	out.ID = p.ID
	return out, nil
}
