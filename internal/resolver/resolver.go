// Package resolver replaces $ref markers in an API definition with the
// document fragments they point to.
package resolver

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-openapi/jsonpointer"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/definition"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/errors"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/logger"
)

// RefKind classifies a reference string.
type RefKind int

const (
	// Local points into the current document: "#/definitions/Pet".
	Local RefKind = iota
	// Remote is an absolute http(s) URL.
	Remote
	// File is a path relative to the definition: "pet.yaml#/Pet".
	File
	// ProtocolRelative is "//host/doc.json"; it is logged and left in place.
	ProtocolRelative
)

// String returns the kind name.
func (k RefKind) String() string {
	switch k {
	case Remote:
		return "remote"
	case File:
		return "file"
	case ProtocolRelative:
		return "protocol-relative"
	default:
		return "local"
	}
}

// Classify determines the kind of a reference.
func Classify(ref string) RefKind {
	switch {
	case strings.HasPrefix(ref, "#"):
		return Local
	case strings.HasPrefix(ref, "//"):
		return ProtocolRelative
	case definition.IsURL(ref):
		return Remote
	default:
		return File
	}
}

// splitRef separates the document location from the fragment.
func splitRef(ref string) (location, fragment string) {
	if i := strings.Index(ref, "#"); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

// Config holds resolver configuration.
type Config struct {
	// MaxPasses bounds the fixed-point loop.
	MaxPasses int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxPasses: 64}
}

// Stats describes a completed resolution.
type Stats struct {
	Passes    int
	Resolved  int
	Documents int
	Cyclic    []string
	Skipped   []string
	Missing   []string
}

// Resolver resolves references with a fixed-point traversal.
//
// Every spliced payload remembers the chain of references that produced it.
// A reference already present in that chain is a cycle and is replaced by an
// empty object.
type Resolver struct {
	loader definition.Loader
	log    *logger.Logger
	config Config

	source   *definition.Document
	merged   map[string]any
	external map[string]map[string]any
	chains   map[uintptr]provenance
	skipped  map[string]bool
	missing  map[string]bool
	stats    Stats
}

// provenance holds the object itself so its address cannot be reused while
// the chain is recorded.
type provenance struct {
	node  map[string]any
	chain []string
}

// New creates a resolver that fetches external documents with loader.
func New(loader definition.Loader, log *logger.Logger, config Config) *Resolver {
	if config.MaxPasses <= 0 {
		config.MaxPasses = DefaultConfig().MaxPasses
	}
	return &Resolver{
		loader: loader,
		log:    logger.OrNop(log).WithComponent("resolver"),
		config: config,
	}
}

// Stats returns statistics of the last Resolve call.
func (r *Resolver) Stats() Stats {
	return r.stats
}

type pass struct {
	number   int
	resolved int
}

// Resolve returns a copy of doc.Raw with every reachable reference spliced in.
// doc.Raw itself is not modified.
func (r *Resolver) Resolve(ctx context.Context, doc *definition.Document) (map[string]any, error) {
	r.source = doc
	r.merged = definition.Clone(doc.Raw).(map[string]any)
	r.external = make(map[string]map[string]any)
	r.chains = make(map[uintptr]provenance)
	r.skipped = make(map[string]bool)
	r.missing = make(map[string]bool)
	r.stats = Stats{}

	var root any = definition.Clone(doc.Raw)

	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if n > r.config.MaxPasses {
			return nil, errors.NewReferenceError(doc.Source,
				fmt.Sprintf("references still unresolved after %d passes", r.config.MaxPasses), nil)
		}

		p := &pass{number: n}
		next, err := r.walk(ctx, root, nil, p)
		if err != nil {
			return nil, err
		}
		root = next
		r.stats.Passes = n
		r.stats.Resolved += p.resolved

		r.log.Debugf("pass %d resolved %d references", n, p.resolved)
		if p.resolved == 0 {
			break
		}
	}

	out, ok := root.(map[string]any)
	if !ok {
		return nil, errors.NewReferenceError(doc.Source, "document root resolved to a non-object", nil)
	}
	r.stats.Documents = len(r.external)
	return out, nil
}

func (r *Resolver) walk(ctx context.Context, node any, chain []string, p *pass) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		if pv, ok := r.chains[mapID(n)]; ok {
			chain = pv.chain
		}
		if ref, ok := n["$ref"].(string); ok && ref != "" {
			return r.expand(ctx, n, ref, chain, p)
		}
		for _, k := range definition.SortedKeys(n) {
			v, err := r.walk(ctx, n[k], chain, p)
			if err != nil {
				return nil, err
			}
			n[k] = v
		}
		return n, nil
	case []any:
		for i := range n {
			v, err := r.walk(ctx, n[i], chain, p)
			if err != nil {
				return nil, err
			}
			n[i] = v
		}
		return n, nil
	default:
		return node, nil
	}
}

func (r *Resolver) expand(ctx context.Context, node map[string]any, ref string, chain []string, p *pass) (any, error) {
	kind := Classify(ref)

	if kind == ProtocolRelative {
		if !r.skipped[ref] {
			r.skipped[ref] = true
			r.stats.Skipped = append(r.stats.Skipped, ref)
			r.log.Warnf("protocol-relative reference %s is not supported, skipping", ref)
		}
		return node, nil
	}

	p.resolved++

	for _, seen := range chain {
		if seen == ref {
			r.stats.Cyclic = append(r.stats.Cyclic, ref)
			r.log.Warnf("cyclic reference %s via %s, replacing with empty object", ref, strings.Join(chain, " -> "))
			return map[string]any{}, nil
		}
	}

	location, fragment := splitRef(ref)

	var scope map[string]any
	switch kind {
	case Remote:
		doc, err := r.loadURL(ctx, location)
		if err != nil {
			return nil, errors.NewReferenceError(ref, "remote document is not available", err)
		}
		scope = doc
	case File:
		doc, err := r.loadFile(ctx, ref, location)
		if err != nil {
			return nil, err
		}
		scope = doc
	}

	target, ok := lookup(scope, r.merged, fragment)
	if !ok {
		if !r.missing[ref] {
			r.missing[ref] = true
			r.stats.Missing = append(r.stats.Missing, ref)
			r.log.Warnf("reference %s points to a missing fragment, using empty object", ref)
		}
		target = map[string]any{}
	}

	payload := definition.Clone(target)
	next := make([]string, len(chain), len(chain)+1)
	copy(next, chain)
	r.mark(payload, append(next, ref))

	r.log.ReferenceEvent(ref, kind.String(), p.number)
	return payload, nil
}

// mark records the reference chain on every object inside payload.
func (r *Resolver) mark(payload any, chain []string) {
	switch v := payload.(type) {
	case map[string]any:
		r.chains[mapID(v)] = provenance{node: v, chain: chain}
		for _, child := range v {
			r.mark(child, chain)
		}
	case []any:
		for _, child := range v {
			r.mark(child, chain)
		}
	}
}

func (r *Resolver) loadURL(ctx context.Context, location string) (map[string]any, error) {
	if doc, ok := r.external[location]; ok {
		return doc, nil
	}
	r.log.Infof("downloading referenced document %s", location)
	doc, err := r.fetch(ctx, location)
	if err != nil {
		return nil, err
	}
	r.adopt(location, doc)
	return doc, nil
}

// loadFile loads a file reference relative to the definition, falling back to
// the directory of the source URL.
func (r *Resolver) loadFile(ctx context.Context, ref, location string) (map[string]any, error) {
	path := location
	if !filepath.IsAbs(path) && r.source.BaseDir != "" {
		path = filepath.Join(r.source.BaseDir, location)
	}
	if doc, ok := r.external[path]; ok {
		return doc, nil
	}

	var fileErr error
	if r.source.BaseDir != "" || filepath.IsAbs(path) {
		doc, err := r.fetch(ctx, path)
		if err == nil {
			r.adopt(path, doc)
			return doc, nil
		}
		fileErr = err
	}

	if r.source.SourceURL == "" {
		return nil, errors.NewReferenceError(ref, "local file reference is not available", fileErr)
	}

	fallback := definition.DirURL(r.source.SourceURL) + strings.TrimPrefix(location, "./")
	if doc, ok := r.external[fallback]; ok {
		return doc, nil
	}
	r.log.Debugf("file %s not available, trying %s", location, fallback)
	doc, err := r.fetch(ctx, fallback)
	if err != nil {
		return nil, errors.NewReferenceError(ref, "file reference is not available locally or next to "+r.source.SourceURL, err)
	}
	r.adopt(fallback, doc)
	return doc, nil
}

func (r *Resolver) fetch(ctx context.Context, location string) (map[string]any, error) {
	data, err := r.loader.Load(ctx, location)
	if err != nil {
		return nil, err
	}
	return definition.Parse(data, location)
}

// adopt caches an external document and merges it into the lookup scope so
// that its own local references can be found.
func (r *Resolver) adopt(location string, doc map[string]any) {
	r.external[location] = doc
	mergeMissing(r.merged, definition.Clone(doc).(map[string]any))
}

// mergeMissing copies keys of src missing from dst, recursing into objects
// present in both. Existing values in dst win.
func mergeMissing(dst, src map[string]any) {
	for k, v := range src {
		existing, ok := dst[k]
		if !ok {
			dst[k] = v
			continue
		}
		dm, dok := existing.(map[string]any)
		sm, sok := v.(map[string]any)
		if dok && sok {
			mergeMissing(dm, sm)
		}
	}
}

// lookup finds fragment in scope first, then in the merged document.
func lookup(scope, merged map[string]any, fragment string) (any, bool) {
	if scope != nil {
		if v, ok := Pointer(scope, fragment); ok {
			return v, true
		}
	}
	return Pointer(merged, fragment)
}

// Pointer evaluates a JSON pointer fragment against doc. A missing leading
// slash is tolerated and percent-escapes are decoded.
func Pointer(doc map[string]any, fragment string) (any, bool) {
	if fragment == "" || fragment == "/" {
		return doc, true
	}
	if unescaped, err := url.PathUnescape(fragment); err == nil {
		fragment = unescaped
	}
	if !strings.HasPrefix(fragment, "/") {
		fragment = "/" + fragment
	}

	ptr, err := jsonpointer.New(fragment)
	if err != nil {
		return nil, false
	}
	v, _, err := ptr.Get(doc)
	if err != nil || v == nil {
		return nil, false
	}
	return v, true
}

func mapID(m map[string]any) uintptr {
	return reflect.ValueOf(m).Pointer()
}
