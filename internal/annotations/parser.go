package annotations

import (
	"fmt"
	"strconv"
	"strings"
)

// Annotation grammar, applied to a unit's Description property:
//
//   - entries are separated by newlines or commas
//   - a comma-separated piece without '=' continues the previous entry's
//     value, so list values like "entrypoints=web,websecure" survive
//   - each entry is "key=value"; surrounding whitespace is trimmed
//   - keys live under the "route." namespace; anything else is ignored
//   - recognized keys:
//       route.http.routers.<name>.<field>
//       route.http.services.<name>.<field>
//       route.http.middlewares.<name>.<path...>
//       route.port
//
// Parsing is total: a malformed entry is dropped individually with a
// diagnostic, never failing the rest of the unit.
const (
	prefix = "route."

	routersKey     = "http.routers."
	servicesKey    = "http.services."
	middlewaresKey = "http.middlewares."
	portKey        = "port"
)

// Parse converts a unit's raw annotation text into a Fragment plus the
// diagnostics for every entry it had to drop.
func Parse(raw string) (*Fragment, []Diagnostic) {
	f := NewFragment()
	var diags []Diagnostic

	for _, entry := range splitEntries(raw) {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !ok {
			diags = append(diags, Diagnostic{Key: key, Reason: "missing '='"})
			continue
		}
		value = strings.TrimSpace(value)
		rest := key[len(prefix):]

		switch {
		case rest == portKey:
			port, err := strconv.Atoi(value)
			if err != nil || port <= 0 || port > 65535 {
				diags = append(diags, Diagnostic{Key: key, Reason: fmt.Sprintf("invalid port %q", value)})
				continue
			}
			f.Port = port

		case strings.HasPrefix(rest, routersKey):
			if d := applyRouter(f, rest[len(routersKey):], value); d != "" {
				diags = append(diags, Diagnostic{Key: key, Reason: d})
			}

		case strings.HasPrefix(rest, servicesKey):
			if d := applyService(f, rest[len(servicesKey):], value); d != "" {
				diags = append(diags, Diagnostic{Key: key, Reason: d})
			}

		case strings.HasPrefix(rest, middlewaresKey):
			if d := applyMiddleware(f, rest[len(middlewaresKey):], value); d != "" {
				diags = append(diags, Diagnostic{Key: key, Reason: d})
			}

		default:
			diags = append(diags, Diagnostic{Key: key, Reason: "unrecognized key"})
		}
	}

	return f, diags
}

// splitEntries breaks the raw annotation text into candidate "key=value"
// entries. Comma pieces lacking '=' are re-joined to the previous piece,
// which keeps comma-separated list values intact.
func splitEntries(raw string) []string {
	var entries []string
	for _, line := range strings.Split(raw, "\n") {
		start := len(entries)
		for _, piece := range strings.Split(line, ",") {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			if !strings.Contains(piece, "=") && len(entries) > start {
				entries[len(entries)-1] += "," + piece
				continue
			}
			entries = append(entries, piece)
		}
	}
	return entries
}

func applyRouter(f *Fragment, sub, value string) (reason string) {
	name, field, ok := strings.Cut(sub, ".")
	if !ok || name == "" || field == "" {
		return "expected routers.<name>.<field>"
	}

	r := f.Routers[name]
	if r == nil {
		r = &Router{}
	}

	switch strings.ToLower(field) {
	case "rule":
		r.Rule = value
	case "entrypoints":
		r.EntryPoints = splitList(value)
	case "middlewares":
		r.Middlewares = splitList(value)
	case "service":
		r.Service = value
	case "priority":
		p, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Sprintf("invalid priority %q", value)
		}
		r.Priority = p
	case "tls":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Sprintf("invalid tls flag %q", value)
		}
		r.TLS = b
	case "tls.certresolver":
		r.TLS = true
		r.CertResolver = value
	default:
		return fmt.Sprintf("unrecognized router field %q", field)
	}

	f.Routers[name] = r
	return ""
}

func applyService(f *Fragment, sub, value string) (reason string) {
	name, field, ok := strings.Cut(sub, ".")
	if !ok || name == "" || field == "" {
		return "expected services.<name>.<field>"
	}

	s := f.Services[name]
	if s == nil {
		s = &Service{}
	}

	switch strings.ToLower(field) {
	case "url":
		s.URL = value
	case "address":
		s.Address = value
	case "scheme":
		if value != "http" && value != "https" {
			return fmt.Sprintf("invalid scheme %q", value)
		}
		s.Scheme = value
	case "port":
		p, err := strconv.Atoi(value)
		if err != nil || p <= 0 || p > 65535 {
			return fmt.Sprintf("invalid port %q", value)
		}
		s.Port = p
	default:
		return fmt.Sprintf("unrecognized service field %q", field)
	}

	f.Services[name] = s
	return ""
}

// applyMiddleware stores the field path below the middleware name as a
// nested mapping, so arbitrary middleware options pass through to the
// emitted document without this package knowing every middleware type.
func applyMiddleware(f *Fragment, sub, value string) (reason string) {
	name, path, ok := strings.Cut(sub, ".")
	if !ok || name == "" || path == "" {
		return "expected middlewares.<name>.<path>"
	}

	m := f.Middlewares[name]
	if m == nil {
		m = make(map[string]interface{})
		f.Middlewares[name] = m
	}

	segments := strings.Split(path, ".")
	for _, seg := range segments {
		if seg == "" {
			return "empty path segment"
		}
	}

	var v interface{}
	if list := splitList(value); len(list) > 1 {
		v = list
	} else {
		v = value
	}
	setNested(m, segments, v)
	return ""
}

func setNested(m map[string]interface{}, path []string, v interface{}) {
	if len(path) == 1 {
		m[path[0]] = v
		return
	}
	child, ok := m[path[0]].(map[string]interface{})
	if !ok {
		child = make(map[string]interface{})
		m[path[0]] = child
	}
	setNested(child, path[1:], v)
}

func splitList(s string) []string {
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
