// Package jsonsafe normalizes nested clinical values into a shape that
// encoding/json can always serialize.
package jsonsafe

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// MaxDepth 最大递归深度，超过即认为输入存在环或异常嵌套
const MaxDepth = 64

// TimeLayout 时间值的规范字符串格式
const TimeLayout = time.RFC3339Nano

// ErrTooDeep 嵌套深度超过 MaxDepth
var ErrTooDeep = errors.New("jsonsafe: value nested too deeply")

// Pair 有序映射中的一个键值对
type Pair struct {
	Key   string
	Value any
}

// Map 保持插入顺序的映射，序列化时按插入顺序输出键
type Map []Pair

// Get 按键查找
func (m Map) Get(key string) (any, bool) {
	for _, p := range m {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// MarshalJSON 按插入顺序序列化
func (m Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(p.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal key %q: %w", p.Key, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// FormatTime 时间的规范字符串表示
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// Sanitize 递归规范化：
//   - Map 保留顺序；任意键类型的 map 按 encoding/json 规则转为字符串键
//   - 结构体按 json 标签转为有序 Map，切片与数组保留顺序
//   - nil、nil 指针、NaN 与 ±Inf 变为 nil
//   - time.Time 与 time.Duration 变为规范字符串
//   - 其它标量原样返回
func Sanitize(v any) (any, error) {
	return sanitize(v, 0)
}

func sanitize(v any, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, ErrTooDeep
	}

	switch val := v.(type) {
	case nil:
		return nil, nil
	case Map:
		out := make(Map, 0, len(val))
		for _, p := range val {
			sv, err := sanitize(p.Value, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, Pair{Key: p.Key, Value: sv})
		}
		return out, nil
	case time.Time:
		return FormatTime(val), nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return FormatTime(*val), nil
	case time.Duration:
		return val.String(), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, nil
		}
		return val, nil
	case float32:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, nil
		}
		return val, nil
	case string, bool, json.Number, json.RawMessage, []byte,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return val, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return sanitize(rv.Elem().Interface(), depth+1)
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		return sanitizeList(rv, depth)
	case reflect.Array:
		return sanitizeList(rv, depth)
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key, err := mapKey(iter.Key())
			if err != nil {
				return nil, err
			}
			sv, err := sanitize(iter.Value().Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			out[key] = sv
		}
		return out, nil
	case reflect.Struct:
		if rv.Type().Implements(jsonMarshalerType) {
			return v, nil
		}
		return sanitizeStruct(rv, depth)
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, nil
		}
		return v, nil
	}

	return v, nil
}

func sanitizeList(rv reflect.Value, depth int) (any, error) {
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		sv, err := sanitize(rv.Index(i).Interface(), depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = sv
	}
	return out, nil
}

// mapKey 与 encoding/json 相同的键转换：字符串、TextMarshaler、整数
func mapKey(k reflect.Value) (string, error) {
	if k.Kind() == reflect.String {
		return k.String(), nil
	}
	if k.Type().Implements(textMarshalerType) {
		if k.Kind() == reflect.Pointer && k.IsNil() {
			return "", nil
		}
		b, err := k.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return "", fmt.Errorf("failed to marshal map key: %w", err)
		}
		return string(b), nil
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	return fmt.Sprint(k.Interface()), nil
}

// sanitizeStruct 导出字段按 json 标签展开；导出的匿名结构体字段（无标签）平铺
func sanitizeStruct(rv reflect.Value, depth int) (Map, error) {
	out := Map{}
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fv := rv.Field(i)

		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")

		if !field.IsExported() {
			continue
		}
		if field.Anonymous && name == "" {
			if fv.Kind() == reflect.Pointer {
				if fv.IsNil() {
					continue
				}
				fv = fv.Elem()
			}
			if fv.Kind() == reflect.Struct && !fv.Type().Implements(jsonMarshalerType) {
				inner, err := sanitizeStruct(fv, depth+1)
				if err != nil {
					return nil, err
				}
				out = append(out, inner...)
				continue
			}
		}
		if name == "" {
			name = field.Name
		}
		if strings.Contains(opts, "omitempty") && isEmptyValue(fv) {
			continue
		}

		sv, err := sanitize(fv.Interface(), depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, Pair{Key: name, Value: sv})
	}
	return out, nil
}

// isEmptyValue 与 encoding/json 的 omitempty 判定一致
func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}
