package ruleengine

import "strings"

// appliesTo reports whether cfg scopes in the request described by rc.
// The handler dimension is only checked when the request resolved to a handler.
func appliesTo(cfg RuleConfig, rc *Context) bool {
	if len(cfg.Paths) > 0 && !matchPath(cfg.Paths, rc.Request.Path) {
		return false
	}

	if len(cfg.Methods) > 0 && !matchMethod(cfg.Methods, rc.Request.Method) {
		return false
	}

	if len(cfg.Handlers) > 0 && rc.HandlerName != "" && !contains(cfg.Handlers, rc.HandlerName) {
		return false
	}

	return true
}

// matchPath compares exactly, by raw prefix when the pattern ends in '*'
// ("/api/x*" matches "/api/xyz"), or segment by segment when the pattern
// holds "{name}" placeholders ("/patients/{id}" matches "/patients/42").
func matchPath(patterns []string, path string) bool {
	for _, p := range patterns {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(path, prefix) {
				return true
			}
			continue
		}
		if p == path || (strings.Contains(p, "{") && matchTemplate(p, path)) {
			return true
		}
	}
	return false
}

func matchTemplate(pattern, path string) bool {
	want := strings.Split(strings.Trim(pattern, "/"), "/")
	got := strings.Split(strings.Trim(path, "/"), "/")
	if len(want) != len(got) {
		return false
	}
	for i, seg := range want {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			if got[i] == "" {
				return false
			}
			continue
		}
		if seg != got[i] {
			return false
		}
	}
	return true
}

func matchMethod(methods []string, method string) bool {
	for _, m := range methods {
		if m == "*" || strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
