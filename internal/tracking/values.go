package tracking

import (
	"bytes"
	"reflect"
)

// deepCopy snapshots a value so later mutations of the live value do not
// leak into stored originals.
func deepCopy(value interface{}) interface{} {
	if value == nil {
		return nil
	}

	original := reflect.ValueOf(value)
	if original.Kind() == reflect.Ptr {
		if original.IsNil() {
			return nil
		}
		originalElem := original.Elem()
		copyPtr := reflect.New(originalElem.Type())
		copyRecursive(originalElem, copyPtr.Elem())
		return copyPtr.Interface()
	}

	copied := reflect.New(original.Type()).Elem()
	copyRecursive(original, copied)
	return copied.Interface()
}

func copyRecursive(original, copied reflect.Value) {
	switch original.Kind() {
	case reflect.Struct:
		originalType := original.Type()
		for i := 0; i < original.NumField(); i++ {
			field := originalType.Field(i)
			originalField := original.Field(i)
			copyField := copied.Field(i)

			// Unexported fields cannot be accessed safely.
			if field.PkgPath != "" {
				continue
			}

			if originalField.CanInterface() && copyField.CanSet() {
				copyRecursive(originalField, copyField)
			}
		}
	case reflect.Slice:
		if !original.IsNil() {
			copied.Set(reflect.MakeSlice(original.Type(), original.Len(), original.Cap()))
			for i := 0; i < original.Len(); i++ {
				copyRecursive(original.Index(i), copied.Index(i))
			}
		}
	case reflect.Map:
		if !original.IsNil() {
			copied.Set(reflect.MakeMap(original.Type()))
			for _, key := range original.MapKeys() {
				copyKey := reflect.New(key.Type()).Elem()
				copyRecursive(key, copyKey)
				copyValue := reflect.New(original.MapIndex(key).Type()).Elem()
				copyRecursive(original.MapIndex(key), copyValue)
				copied.SetMapIndex(copyKey, copyValue)
			}
		}
	case reflect.Ptr:
		if !original.IsNil() {
			copied.Set(reflect.New(original.Elem().Type()))
			copyRecursive(original.Elem(), copied.Elem())
		}
	default:
		if copied.CanSet() && original.CanInterface() {
			copied.Set(original)
		}
	}
}

// structurallyEqual compares two values by content, not identity. Byte
// sequences compare element-wise; structs, slices and maps recurse.
func structurallyEqual(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return isNilValue(a) && isNilValue(b)
	}
	if ab, ok := a.([]byte); ok {
		if bb, ok := b.([]byte); ok {
			return bytes.Equal(ab, bb)
		}
	}

	va := reflect.ValueOf(a)
	vb := reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	return valuesEqual(va, vb)
}

func valuesEqual(a, b reflect.Value) bool {
	if a.Type() != b.Type() {
		return false
	}

	switch a.Kind() {
	case reflect.Struct:
		structType := a.Type()
		for i := 0; i < a.NumField(); i++ {
			field := structType.Field(i)
			fieldA := a.Field(i)
			fieldB := b.Field(i)

			if field.PkgPath != "" {
				continue
			}

			if fieldA.CanInterface() && fieldB.CanInterface() {
				if !valuesEqual(fieldA, fieldB) {
					return false
				}
			}
		}
		return true
	case reflect.Slice, reflect.Array:
		if a.Kind() == reflect.Slice && (a.IsNil() != b.IsNil()) {
			return a.Len() == 0 && b.Len() == 0
		}
		if a.Len() != b.Len() {
			return false
		}
		for i := 0; i < a.Len(); i++ {
			if !valuesEqual(a.Index(i), b.Index(i)) {
				return false
			}
		}
		return true
	case reflect.Map:
		if a.Len() != b.Len() {
			return false
		}
		for _, key := range a.MapKeys() {
			valA := a.MapIndex(key)
			valB := b.MapIndex(key)
			if !valB.IsValid() || !valuesEqual(valA, valB) {
				return false
			}
		}
		return true
	case reflect.Ptr, reflect.Interface:
		if a.IsNil() && b.IsNil() {
			return true
		}
		if a.IsNil() || b.IsNil() {
			return false
		}
		return valuesEqual(a.Elem(), b.Elem())
	default:
		if a.CanInterface() && b.CanInterface() {
			return reflect.DeepEqual(a.Interface(), b.Interface())
		}
		switch a.Kind() {
		case reflect.Bool:
			return a.Bool() == b.Bool()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return a.Int() == b.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return a.Uint() == b.Uint()
		case reflect.Float32, reflect.Float64:
			return a.Float() == b.Float()
		case reflect.Complex64, reflect.Complex128:
			return a.Complex() == b.Complex()
		case reflect.String:
			return a.String() == b.String()
		default:
			return true
		}
	}
}

// sameReference compares by reference identity. Typed nil pointers and
// untyped nils are treated as the same "no reference" value.
func sameReference(a, b interface{}) bool {
	if isNilValue(a) && isNilValue(b) {
		return true
	}
	if isNilValue(a) || isNilValue(b) {
		return false
	}
	return a == b
}

func isNilValue(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return false
}

// IsZero reports whether v is the zero value of its type. Used to tell
// store-generated key slots apart from caller-assigned ones.
func IsZero(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return true
	}

	switch rv.Kind() {
	case reflect.String:
		return rv.String() == ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() == 0.0
	case reflect.Bool:
		return !rv.Bool()
	case reflect.Interface, reflect.Ptr:
		return rv.IsNil()
	case reflect.Slice, reflect.Map, reflect.Chan:
		return rv.Len() == 0
	default:
		zero := reflect.Zero(rv.Type())
		return reflect.DeepEqual(rv.Interface(), zero.Interface())
	}
}
