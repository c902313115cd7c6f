package compiler

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/definition"
)

// BaseURL derives the URL requests are sent to.
//
// An alternate URL replaces the scheme and host while keeping the declared
// base path (Swagger 2 basePath or the path of servers[0].url). source is the
// definition location, used for relative server URLs and a missing host.
func BaseURL(def map[string]any, alternate, source string) (string, error) {
	switch definition.VersionOf(def) {
	case definition.Swagger2:
		return swaggerBaseURL(def, alternate, source)
	case definition.OpenAPI3:
		return openAPIBaseURL(def, alternate, source)
	default:
		if alternate == "" {
			return "", fmt.Errorf("cannot derive a base URL from an unknown definition version; set an alternate URL")
		}
		return strings.TrimRight(alternate, "/"), nil
	}
}

func swaggerBaseURL(def map[string]any, alternate, source string) (string, error) {
	basePath := str(def["basePath"])
	if alternate != "" {
		return joinBase(alternate, basePath), nil
	}

	var src *url.URL
	if definition.IsURL(source) {
		src, _ = url.Parse(source)
	}

	scheme := ""
	schemes := stringList(def["schemes"])
	for _, s := range schemes {
		if s == "http" {
			scheme = s
			break
		}
	}
	if scheme == "" && len(schemes) > 0 {
		scheme = schemes[0]
	}
	if scheme == "" {
		scheme = "http"
		if src != nil {
			scheme = src.Scheme
		}
	}

	host := str(def["host"])
	if host == "" && src != nil {
		host = src.Host
	}
	if host == "" {
		return "", fmt.Errorf("definition declares no host; set an alternate URL")
	}

	return strings.TrimRight(scheme+"://"+host+"/"+strings.TrimLeft(basePath, "/"), "/"), nil
}

func openAPIBaseURL(def map[string]any, alternate, source string) (string, error) {
	servers, _ := def["servers"].([]any)
	var server map[string]any
	if len(servers) > 0 {
		server, _ = servers[0].(map[string]any)
	}
	raw := expandServerVariables(str(server["url"]), server)

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", raw, err)
	}

	if alternate != "" {
		return joinBase(alternate, parsed.Path), nil
	}

	if parsed.IsAbs() && parsed.Host != "" {
		return strings.TrimRight(raw, "/"), nil
	}

	if !definition.IsURL(source) {
		if raw == "" {
			return "", fmt.Errorf("definition declares no servers; set an alternate URL")
		}
		return "", fmt.Errorf("server URL %q is relative and the definition was not loaded from a URL; set an alternate URL", raw)
	}
	src, err := url.Parse(source)
	if err != nil {
		return "", fmt.Errorf("invalid source URL %q: %w", source, err)
	}
	if raw == "" {
		raw = "/"
	}
	return strings.TrimRight(src.ResolveReference(parsed).String(), "/"), nil
}

// expandServerVariables substitutes {name} with the declared default.
func expandServerVariables(raw string, server map[string]any) string {
	vars, _ := server["variables"].(map[string]any)
	for name, v := range vars {
		def := str(get(asMap(v), "default"))
		raw = strings.ReplaceAll(raw, "{"+name+"}", def)
	}
	return raw
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func joinBase(alternate, basePath string) string {
	base := strings.TrimRight(alternate, "/")
	if p := strings.Trim(basePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
