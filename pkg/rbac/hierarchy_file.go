package rbac

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// HierarchyFile is the YAML document accepted by LoadHierarchyFile.
//
//	roles:
//	  - role: manager
//	    priority: 35
//	    permissions:
//	      - {resource: report, action: export}
//
// Only roles of the built-in enumeration may appear. Omitted fields keep
// their built-in value; a present list replaces the built-in list.
type HierarchyFile struct {
	Roles []RoleOverride `yaml:"roles"`
}

// RoleOverride re-tunes one built-in role.
type RoleOverride struct {
	Role        Role          `yaml:"role"`
	DisplayName *string       `yaml:"display_name"`
	Description *string       `yaml:"description"`
	Priority    *int          `yaml:"priority"`
	Inherits    *[]Role       `yaml:"inherits"`
	Permissions *[]Permission `yaml:"permissions"`
}

// LoadHierarchyFile reads overrides from path and applies them on top of the
// built-in table. An empty path returns the built-in table.
func LoadHierarchyFile(path string) (*Hierarchy, error) {
	if path == "" {
		return DefaultHierarchy(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open hierarchy file: %w", err)
	}
	defer f.Close()

	h, err := ParseHierarchy(f)
	if err != nil {
		return nil, fmt.Errorf("hierarchy file %s: %w", path, err)
	}
	return h, nil
}

// ParseHierarchy decodes a HierarchyFile from r and builds the resulting table.
func ParseHierarchy(r io.Reader) (*Hierarchy, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read hierarchy: %w", err)
	}

	var file HierarchyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, &ValidationError{Field: "hierarchy", Message: err.Error()}
	}

	return file.Apply(BuiltInRoles())
}

// Apply overlays the overrides on defs and validates the result.
func (f HierarchyFile) Apply(defs []RoleDefinition) (*Hierarchy, error) {
	index := make(map[Role]int, len(defs))
	out := make([]RoleDefinition, len(defs))
	for i, def := range defs {
		out[i] = cloneDefinition(def)
		index[def.Role] = i
	}

	seen := make(map[Role]bool, len(f.Roles))
	for _, o := range f.Roles {
		i, ok := index[o.Role]
		if !ok {
			return nil, &ValidationError{Field: "role", Message: fmt.Sprintf("cannot override unknown role %q", o.Role)}
		}
		if seen[o.Role] {
			return nil, &ValidationError{Field: "role", Message: fmt.Sprintf("role %q overridden twice", o.Role)}
		}
		seen[o.Role] = true

		def := &out[i]
		if o.DisplayName != nil {
			def.DisplayName = *o.DisplayName
		}
		if o.Description != nil {
			def.Description = *o.Description
		}
		if o.Priority != nil {
			def.Priority = *o.Priority
		}
		if o.Inherits != nil {
			def.Inherits = append([]Role(nil), (*o.Inherits)...)
		}
		if o.Permissions != nil {
			def.Permissions = append([]Permission(nil), (*o.Permissions)...)
		}
	}

	return NewHierarchy(out)
}

// MarshalHierarchy renders h as a HierarchyFile listing every role in full.
func MarshalHierarchy(h *Hierarchy) ([]byte, error) {
	var file HierarchyFile
	for _, r := range h.Roles() {
		def, _ := h.Definition(r)
		priority := def.Priority
		inherits := def.Inherits
		permissions := def.Permissions
		displayName := def.DisplayName
		description := def.Description
		file.Roles = append(file.Roles, RoleOverride{
			Role:        r,
			DisplayName: &displayName,
			Description: &description,
			Priority:    &priority,
			Inherits:    &inherits,
			Permissions: &permissions,
		})
	}
	return yaml.Marshal(file)
}
