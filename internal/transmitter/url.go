package transmitter

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/model"
)

var placeholderRe = regexp.MustCompile(`\{([^{}/]+)\}`)

// JoinURL joins base and path with exactly one separator between them.
func JoinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return base
	}
	return base + "/" + path
}

// ExpandPathVariables substitutes {name} placeholders with the given values.
// A variable without a placeholder is appended as "&name=value" so it is
// still sent. Placeholders without a value lose their braces.
func ExpandPathVariables(path string, vars []model.Value) string {
	values := make(map[string]string, len(vars))
	for _, v := range vars {
		values[v.Name] = v.String()
	}

	used := make(map[string]bool, len(vars))
	out := placeholderRe.ReplaceAllStringFunc(path, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := values[name]; ok {
			used[name] = true
			return v
		}
		return name
	})

	for _, v := range vars {
		if !used[v.Name] {
			out += "&" + v.Name + "=" + v.String()
			used[v.Name] = true
		}
	}
	return out
}

// EncodeQuery serialises query values in declaration order.
func EncodeQuery(vals []model.Value) string {
	if len(vals) == 0 {
		return ""
	}
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		parts = append(parts, url.QueryEscape(v.Name)+"="+url.QueryEscape(v.String()))
	}
	return strings.Join(parts, "&")
}
