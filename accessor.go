package dbmap

import (
	"reflect"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
)

// FieldAccessor reads and writes a named field of an object.
type FieldAccessor interface {
	GetField(obj interface{}, name string) (interface{}, error)
	SetField(obj interface{}, name string, value interface{}) error
}

// FieldGetter is implemented by types with generated accessors; it takes
// precedence over the struct field table.
type FieldGetter interface {
	GetField(name string) (interface{}, bool)
}

// FieldSetter is the write half of FieldGetter. It returns false when the
// type has no field called name.
type FieldSetter interface {
	SetField(name string, value interface{}) (bool, error)
}

// structIndex maps lower-cased names (db tag, column tag or Go field name)
// to field index paths. Built once per struct type.
type structIndex struct {
	byName map[string][]int
}

var structIndexes = xsync.NewMapOf[reflect.Type, *structIndex]()

func indexOf(t reflect.Type) *structIndex {
	idx, _ := structIndexes.LoadOrCompute(t, func() *structIndex {
		si := &structIndex{byName: make(map[string][]int)}
		buildIndex(si, t, nil)
		return si
	})
	return idx
}

func buildIndex(si *structIndex, t reflect.Type, prefix []int) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		path := append(append([]int(nil), prefix...), i)

		if f.Anonymous && f.Type.Kind() == reflect.Struct && f.Tag.Get("db") == "" {
			buildIndex(si, f.Type, path)
			continue
		}
		if !f.IsExported() {
			continue
		}

		names := []string{f.Name}
		for _, tag := range []string{"db", "column"} {
			name := f.Tag.Get(tag)
			if cut := strings.IndexByte(name, ','); cut >= 0 {
				name = name[:cut]
			}
			if name == "-" {
				names = nil
				break
			}
			if name != "" {
				names = append(names, name)
			}
		}
		for _, n := range names {
			key := strings.ToLower(n)
			// 外层字段优先于嵌入字段
			if _, exists := si.byName[key]; !exists || len(path) < len(si.byName[key]) {
				si.byName[key] = path
			}
		}
	}
}

// StructAccessor is the default FieldAccessor: generated accessors first,
// then the cached struct field table (case-insensitive names).
type StructAccessor struct{}

// DefaultAccessor is used by DB when no accessor is configured.
var DefaultAccessor FieldAccessor = StructAccessor{}

func structValue(obj interface{}, writable bool) (reflect.Value, error) {
	v := reflect.ValueOf(obj)
	if writable {
		if v.Kind() != reflect.Ptr || v.IsNil() {
			return reflect.Value{}, newError(ErrCodePropertyWriteFailed, "target must be a non-nil pointer to a struct, got %T", obj)
		}
	}
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, newError(ErrCodePropertyWriteFailed, "nil %T", obj)
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, newError(ErrCodePropertyWriteFailed, "target must be a struct, got %T", obj)
	}
	return v, nil
}

func fieldByPath(v reflect.Value, path []int) (reflect.Value, bool) {
	for _, i := range path {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v, true
}

// GetField implements FieldAccessor.
func (StructAccessor) GetField(obj interface{}, name string) (interface{}, error) {
	if g, ok := obj.(FieldGetter); ok {
		if v, found := g.GetField(name); found {
			return v, nil
		}
	}
	v, err := structValue(obj, false)
	if err != nil {
		return nil, err
	}
	path, ok := indexOf(v.Type()).byName[strings.ToLower(name)]
	if !ok {
		return nil, newError(ErrCodePropertyWriteFailed, "%s has no field '%s'", v.Type(), name)
	}
	f, ok := fieldByPath(v, path)
	if !ok {
		return nil, nil
	}
	return f.Interface(), nil
}

// SetField implements FieldAccessor.
func (StructAccessor) SetField(obj interface{}, name string, value interface{}) error {
	if s, ok := obj.(FieldSetter); ok {
		found, err := s.SetField(name, value)
		if err != nil {
			return wrapError(err, ErrCodePropertyWriteFailed, "failed to set '%s' on %T", name, obj)
		}
		if found {
			return nil
		}
	}
	v, err := structValue(obj, true)
	if err != nil {
		return err
	}
	path, ok := indexOf(v.Type()).byName[strings.ToLower(name)]
	if !ok {
		return newError(ErrCodePropertyWriteFailed, "%s has no field '%s'", v.Type(), name)
	}
	f := v
	for _, i := range path {
		if f.Kind() == reflect.Ptr {
			if f.IsNil() {
				f.Set(reflect.New(f.Type().Elem()))
			}
			f = f.Elem()
		}
		f = f.Field(i)
	}
	if err := setFieldValue(f, value); err != nil {
		return wrapError(err, ErrCodePropertyWriteFailed, "cannot write %T into %s.%s", value, v.Type(), name)
	}
	return nil
}
