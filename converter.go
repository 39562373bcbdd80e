package dbmap

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// derefPointer 解引用多层指针，nil 指针返回 nil
func derefPointer(a any) any {
	if a == nil {
		return nil
	}
	v := reflect.ValueOf(a)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.CanInterface() {
		return v.Interface()
	}
	return nil
}

// bytesToString 驱动常以 []byte 返回数字与文本
func bytesToString(a any) any {
	if b, ok := a.([]byte); ok {
		return string(b)
	}
	return a
}

// toInt64 converts driver values and Go numbers to int64. Floats must be integral.
func toInt64(a any) (int64, error) {
	a = bytesToString(derefPointer(a))
	switch v := a.(type) {
	case nil:
		return 0, fmt.Errorf("cannot convert nil to int64")
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", v)
		}
		return int64(v), nil
	case float32:
		return floatToInt64(float64(v))
	case float64:
		return floatToInt64(v)
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		// DECIMAL 列常返回 "42.0000"
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as int64", v)
		}
		return floatToInt64(f)
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", a)
	}
}

func floatToInt64(f float64) (int64, error) {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	return int64(f), nil
}

func toUint64(a any) (uint64, error) {
	a = bytesToString(derefPointer(a))
	if s, ok := a.(string); ok {
		return strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	}
	if u, ok := a.(uint64); ok {
		return u, nil
	}
	n, err := toInt64(a)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%d is negative", n)
	}
	return uint64(n), nil
}

func toFloat64(a any) (float64, error) {
	a = bytesToString(derefPointer(a))
	switch v := a.(type) {
	case nil:
		return 0, fmt.Errorf("cannot convert nil to float64")
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return float64(rv.Int()), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return float64(rv.Uint()), nil
		case reflect.Bool:
			if rv.Bool() {
				return 1, nil
			}
			return 0, nil
		}
		return 0, fmt.Errorf("cannot convert %T to float64", a)
	}
}

// toBool 支持 1/0、true/false、yes/no、on/off（大小写不敏感）
func toBool(a any) (bool, error) {
	a = bytesToString(derefPointer(a))
	switch v := a.(type) {
	case nil:
		return false, fmt.Errorf("cannot convert nil to bool")
	case bool:
		return v, nil
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b, nil
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "yes", "on":
			return true, nil
		case "no", "off":
			return false, nil
		}
		return false, fmt.Errorf("cannot parse %q as bool", v)
	default:
		f, err := toFloat64(v)
		if err != nil {
			return false, fmt.Errorf("cannot convert %T to bool", a)
		}
		return f != 0, nil
	}
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
}

func toTime(a any) (time.Time, error) {
	a = bytesToString(derefPointer(a))
	switch v := a.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("cannot convert nil to time.Time")
	case time.Time:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, nil
		}
		for _, layout := range timeLayouts {
			if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as time", v)
	case int64:
		return time.Unix(v, 0), nil
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time.Time", a)
	}
}

var timeType = reflect.TypeOf(time.Time{})

// setFieldValue assigns value to field, converting between the value kinds
// drivers return and the field's kind. nil zeroes the field.
func setFieldValue(field reflect.Value, value interface{}) error {
	if value == nil {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	v := reflect.ValueOf(value)

	// Handle pointer target
	if field.Kind() == reflect.Ptr {
		if v.Kind() == reflect.Ptr && v.IsNil() {
			field.Set(reflect.Zero(field.Type()))
			return nil
		}
		elem := reflect.New(field.Type().Elem())
		if err := setFieldValue(elem.Elem(), value); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	}

	// Unpack pointer value
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			field.Set(reflect.Zero(field.Type()))
			return nil
		}
		v = v.Elem()
		value = v.Interface()
	}

	if v.Type().AssignableTo(field.Type()) {
		field.Set(v)
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(fmt.Sprint(bytesToString(value)))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(value)
		if err != nil {
			return err
		}
		if field.OverflowInt(n) {
			return fmt.Errorf("%d overflows %s", n, field.Type())
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toUint64(value)
		if err != nil {
			return err
		}
		if field.OverflowUint(n) {
			return fmt.Errorf("%d overflows %s", n, field.Type())
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(value)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := toBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.Uint8 {
			if s, ok := value.(string); ok {
				field.SetBytes([]byte(s))
				return nil
			}
		}
		return fmt.Errorf("cannot convert %T to %s", value, field.Type())
	default:
		if field.Type() == timeType {
			t, err := toTime(value)
			if err != nil {
				return err
			}
			field.Set(reflect.ValueOf(t))
			return nil
		}
		if v.Type().ConvertibleTo(field.Type()) {
			field.Set(v.Convert(field.Type()))
			return nil
		}
		return fmt.Errorf("cannot convert %T to %s", value, field.Type())
	}
	return nil
}
