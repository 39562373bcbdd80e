package dbmap

import (
	"strings"
)

// ColumnMapping pairs an object property with its database column.
type ColumnMapping struct {
	Property string
	Column   string
}

// EntityMapping is the property→column dictionary of one entity key, in
// declaration order.
type EntityMapping struct {
	Key     string
	Columns []ColumnMapping
}

// MappingSource yields property→column dictionaries for entity keys.
// Implementations must be safe for concurrent reads.
type MappingSource interface {
	// Column returns the column mapped to property under key.
	Column(key, property string) (string, error)
	// Columns returns every property↔column pair of key in declaration order.
	Columns(key string) ([]ColumnMapping, error)
}

type entityIndex struct {
	key        string
	columns    []ColumnMapping
	byProperty map[string]int // exact property -> index
	byLower    map[string]int // lower-case property -> index
}

// MappingRegistry is an immutable MappingSource built once from loaded
// configuration. Lookups are exact first, then case-insensitive.
type MappingRegistry struct {
	entities map[string]*entityIndex
	lowerKey map[string]string // lower-case key -> key
	keys     []string
}

// NewMappingRegistry validates and indexes the given entities. Duplicate
// keys or duplicate properties within a key are rejected.
func NewMappingRegistry(entities ...EntityMapping) (*MappingRegistry, error) {
	reg := &MappingRegistry{
		entities: make(map[string]*entityIndex, len(entities)),
		lowerKey: make(map[string]string, len(entities)),
		keys:     make([]string, 0, len(entities)),
	}

	for _, ent := range entities {
		if err := validateIdentifier(ent.Key); err != nil {
			return nil, err
		}
		if _, dup := reg.lowerKey[strings.ToLower(ent.Key)]; dup {
			return nil, newError(ErrCodeConfigurationInvalid, "duplicate mapping key '%s'", ent.Key)
		}

		idx := &entityIndex{
			key:        ent.Key,
			columns:    make([]ColumnMapping, 0, len(ent.Columns)),
			byProperty: make(map[string]int, len(ent.Columns)),
			byLower:    make(map[string]int, len(ent.Columns)),
		}
		for _, cm := range ent.Columns {
			if err := validateIdentifier(cm.Property); err != nil {
				return nil, err
			}
			if err := validateColumnName(cm.Column); err != nil {
				return nil, err
			}
			lower := strings.ToLower(cm.Property)
			if _, dup := idx.byLower[lower]; dup {
				return nil, newError(ErrCodeConfigurationInvalid, "duplicate property '%s' in mapping '%s'", cm.Property, ent.Key)
			}
			idx.byProperty[cm.Property] = len(idx.columns)
			idx.byLower[lower] = len(idx.columns)
			idx.columns = append(idx.columns, cm)
		}

		reg.entities[ent.Key] = idx
		reg.lowerKey[strings.ToLower(ent.Key)] = ent.Key
		reg.keys = append(reg.keys, ent.Key)
	}

	return reg, nil
}

// MustMappingRegistry is NewMappingRegistry that panics on error; meant for
// package-level test fixtures and static tables.
func MustMappingRegistry(entities ...EntityMapping) *MappingRegistry {
	reg, err := NewMappingRegistry(entities...)
	if err != nil {
		panic(err)
	}
	return reg
}

func (r *MappingRegistry) entity(key string) (*entityIndex, error) {
	if r == nil {
		return nil, newError(ErrCodeMappingNotFound, "mapping '%s' not found: registry is empty", key)
	}
	if ent, ok := r.entities[key]; ok {
		return ent, nil
	}
	if actual, ok := r.lowerKey[strings.ToLower(key)]; ok {
		return r.entities[actual], nil
	}
	return nil, newError(ErrCodeMappingNotFound, "mapping '%s' not found", key)
}

// Column implements MappingSource.
func (r *MappingRegistry) Column(key, property string) (string, error) {
	ent, err := r.entity(key)
	if err != nil {
		return "", err
	}
	if i, ok := ent.byProperty[property]; ok {
		return ent.columns[i].Column, nil
	}
	if i, ok := ent.byLower[strings.ToLower(property)]; ok {
		return ent.columns[i].Column, nil
	}
	return "", newError(ErrCodePropertyAndMappingNotFound, "property '%s' not found in mapping '%s'", property, key)
}

// Columns implements MappingSource. The returned slice is a copy.
func (r *MappingRegistry) Columns(key string) ([]ColumnMapping, error) {
	ent, err := r.entity(key)
	if err != nil {
		return nil, err
	}
	out := make([]ColumnMapping, len(ent.columns))
	copy(out, ent.columns)
	return out, nil
}

// Keys lists the entity keys in registration order.
func (r *MappingRegistry) Keys() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// propertyForColumn is the reverse lookup used when mapping rows back.
func propertyForColumn(src MappingSource, key, column string) (string, bool) {
	cols, err := src.Columns(key)
	if err != nil {
		return "", false
	}
	for _, cm := range cols {
		if strings.EqualFold(cm.Column, column) {
			return cm.Property, true
		}
	}
	return "", false
}
