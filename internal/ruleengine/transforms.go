package ruleengine

import (
	"sort"
	"strings"
)

// BodyTransform rewrites a decoded request body.
type BodyTransform func(body any) (any, error)

var bodyTransforms = map[string]BodyTransform{
	"trim_strings":    TrimStrings,
	"lowercase_email": LowercaseEmail,
}

var extractors = map[string]Extractor{
	"resource_id": func(rc *Context) map[string]any {
		return map[string]any{"resourceId": ResourceID(rc, "id")}
	},
	"client_ip": func(rc *Context) map[string]any {
		return map[string]any{"clientIp": rc.Request.ClientIP}
	},
}

// TransformNames lists the built-in body transform names.
func TransformNames() []string {
	return sortedKeys(bodyTransforms)
}

// ExtractorNames lists the built-in audit extractor names.
func ExtractorNames() []string {
	return sortedKeys(extractors)
}

// TrimStrings trims surrounding whitespace from every string in the body,
// recursing into objects and arrays. The input is not modified.
func TrimStrings(body any) (any, error) {
	return mapStrings(body, func(_ string, s string) string { return strings.TrimSpace(s) }), nil
}

// LowercaseEmail lower-cases every "email" field of the body.
func LowercaseEmail(body any) (any, error) {
	return mapStrings(body, func(key string, s string) string {
		if strings.EqualFold(key, "email") {
			return strings.ToLower(s)
		}
		return s
	}), nil
}

// ChainBody applies transforms in order.
func ChainBody(transforms ...BodyTransform) func(any) (any, error) {
	return func(body any) (any, error) {
		var err error
		for _, t := range transforms {
			if body, err = t(body); err != nil {
				return nil, err
			}
		}
		return body, nil
	}
}

func mapStrings(v any, fn func(key, s string) string) any {
	return walk("", v, fn)
}

func walk(key string, v any, fn func(key, s string) string) any {
	switch t := v.(type) {
	case string:
		return fn(key, t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = walk(k, child, fn)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = walk(key, child, fn)
		}
		return out
	default:
		return v
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
