package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// RouteTable maps logical paths to endpoint strings ("patients.get").
// Exact paths win over templates; templates with more literal segments win
// over less specific ones, and equally specific templates keep file order.
// A RouteTable is immutable once loaded.
type RouteTable struct {
	exact     map[string]string
	templates []template
}

type template struct {
	pattern  string
	segments []string
	literals int
	endpoint string
}

// Route is one entry of the table as loaded from configuration.
type Route struct {
	Path     string
	Endpoint string
}

// NewRouteTable builds a table from routes in the given order.
func NewRouteTable(routes []Route) *RouteTable {
	t := &RouteTable{exact: make(map[string]string, len(routes))}
	for _, r := range routes {
		if !strings.Contains(r.Path, "{") {
			t.exact[r.Path] = r.Endpoint
			continue
		}
		segs := splitPath(r.Path)
		literals := 0
		for _, s := range segs {
			if !isParam(s) {
				literals++
			}
		}
		t.templates = append(t.templates, template{
			pattern:  r.Path,
			segments: segs,
			literals: literals,
			endpoint: r.Endpoint,
		})
	}
	slices.SortStableFunc(t.templates, func(a, b template) int {
		return b.literals - a.literals
	})
	return t
}

// LoadRoutes reads the route file. A missing or unparseable file is an error;
// malformed entries are logged and skipped.
func LoadRoutes(path string, logger *slog.Logger) (*RouteTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open routes file: %w", err)
	}
	defer f.Close()

	t, err := LoadRoutesFrom(f, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// LoadRoutesFrom parses {"routes": {"<path>": "<endpoint>", ...}} preserving entry order.
func LoadRoutesFrom(r io.Reader, logger *slog.Logger) (*RouteTable, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dec := json.NewDecoder(r)

	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	var routes []Route
	found := false
	for dec.More() {
		key, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to parse routes: %w", err)
		}
		if key != "routes" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("failed to parse routes: %w", err)
			}
			continue
		}
		found = true
		if routes, err = decodeEntries(dec, logger); err != nil {
			return nil, err
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New(`missing "routes" object`)
	}

	return NewRouteTable(routes), nil
}

func decodeEntries(dec *json.Decoder, logger *slog.Logger) ([]Route, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, fmt.Errorf(`"routes" must be an object: %w`, err)
	}

	var routes []Route
	seen := make(map[string]struct{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to parse routes: %w", err)
		}
		path, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to parse route %q: %w", path, err)
		}

		var endpoint string
		if err := json.Unmarshal(raw, &endpoint); err != nil || !validRoute(path, endpoint) {
			logger.Warn("skipping malformed route entry",
				slog.String("path", path),
				slog.String("value", string(raw)),
			)
			continue
		}
		if _, dup := seen[path]; dup {
			logger.Warn("duplicate route entry, keeping the first", slog.String("path", path))
			continue
		}
		seen[path] = struct{}{}
		routes = append(routes, Route{Path: path, Endpoint: endpoint})
	}

	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return routes, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to parse routes: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("failed to parse routes: expected %q, got %v", want, tok)
	}
	return nil
}

func validRoute(path, endpoint string) bool {
	return strings.HasPrefix(path, "/") && endpoint != "" && !strings.ContainsAny(endpoint, " \t")
}

// Lookup returns the endpoint for path and any template captures.
func (t *RouteTable) Lookup(path string) (endpoint string, params map[string]string, ok bool) {
	if ep, ok := t.exact[path]; ok {
		return ep, nil, true
	}

	segs := splitPath(path)
	for _, tpl := range t.templates {
		if captured, ok := tpl.match(segs); ok {
			return tpl.endpoint, captured, true
		}
	}
	return "", nil, false
}

// Routes returns the entries, exact paths first, sorted by path.
func (t *RouteTable) Routes() []Route {
	out := make([]Route, 0, t.Len())
	for p, ep := range t.exact {
		out = append(out, Route{Path: p, Endpoint: ep})
	}
	slices.SortFunc(out, func(a, b Route) int { return strings.Compare(a.Path, b.Path) })
	for _, tpl := range t.templates {
		out = append(out, Route{Path: tpl.pattern, Endpoint: tpl.endpoint})
	}
	return out
}

// Len returns the number of routes.
func (t *RouteTable) Len() int {
	return len(t.exact) + len(t.templates)
}

func (tpl template) match(segs []string) (map[string]string, bool) {
	if len(segs) != len(tpl.segments) {
		return nil, false
	}
	var params map[string]string
	for i, s := range tpl.segments {
		if isParam(s) {
			if segs[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[s[1:len(s)-1]] = segs[i]
			continue
		}
		if s != segs[i] {
			return nil, false
		}
	}
	return params, true
}

func splitPath(p string) []string {
	return strings.Split(strings.Trim(p, "/"), "/")
}

func isParam(seg string) bool {
	return len(seg) > 2 && seg[0] == '{' && seg[len(seg)-1] == '}'
}
