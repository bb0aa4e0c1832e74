package output

import (
	"math"
	"reflect"
)

// Sanitize рекурсивно приводит значение к JSON-сериализуемому виду.
// JSON не поддерживает NaN и Infinity, а они регулярно просачиваются из
// численных расчётов (дисперсия пустой истории, деление на ноль в confidence).
// Правила:
//   - NaN -> nil (JSON null)
//   - +Inf -> math.MaxFloat64, -Inf -> -math.MaxFloat64
//   - структуры/map/slice обходятся рекурсивно с сохранением json-тегов
func Sanitize(v any) any {
	if v == nil {
		return nil
	}
	return sanitizeValue(reflect.ValueOf(v))
}

func sanitizeFloat(f float64) any {
	if math.IsNaN(f) {
		return nil
	}
	if math.IsInf(f, 1) {
		return math.MaxFloat64
	}
	if math.IsInf(f, -1) {
		return -math.MaxFloat64
	}
	return f
}

func sanitizeValue(rv reflect.Value) any {
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return sanitizeFloat(rv.Float())

	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return sanitizeValue(rv.Elem())

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = sanitizeValue(rv.Index(i))
		}
		return out

	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key, ok := iter.Key().Interface().(string)
			if !ok {
				continue
			}
			out[key] = sanitizeValue(iter.Value())
		}
		return out

	case reflect.Struct:
		return sanitizeStruct(rv)

	default:
		if !rv.CanInterface() {
			return nil
		}
		return rv.Interface()
	}
}

// sanitizeStruct разворачивает структуру в map по json-тегам, чтобы повторная
// сериализация дала тот же вид записи, что и прямой json.Marshal
func sanitizeStruct(rv reflect.Value) map[string]any {
	rt := rv.Type()
	out := make(map[string]any, rt.NumField())

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if field.PkgPath != "" {
			continue // неэкспортируемое поле
		}

		name, omitempty := parseJSONTag(field)
		if name == "-" {
			continue
		}

		fv := rv.Field(i)
		if omitempty && fv.IsZero() {
			continue
		}
		out[name] = sanitizeValue(fv)
	}

	return out
}

func parseJSONTag(field reflect.StructField) (name string, omitempty bool) {
	tag := field.Tag.Get("json")
	if tag == "" {
		return field.Name, false
	}

	name = tag
	for j := 0; j < len(tag); j++ {
		if tag[j] == ',' {
			name = tag[:j]
			omitempty = tag[j+1:] == "omitempty"
			break
		}
	}
	if name == "" {
		name = field.Name
	}
	return name, omitempty
}
