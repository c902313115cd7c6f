// Package compiler turns a resolved API definition into fuzzable request templates.
package compiler

import (
	"sort"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/definition"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/errors"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/logger"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/model"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/mutator"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/resolver"
)

// Methods lists the HTTP methods read from a path item, in template order.
var Methods = []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"}

// Config holds compiler configuration.
type Config struct {
	Mutator mutator.Options
	// Methods restricts compilation to these lower-case methods when set.
	Methods []string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Mutator: mutator.DefaultOptions()}
}

// Stats describes a compilation.
type Stats struct {
	Operations int
	Templates  int
	Dropped    int
	Fields     int
	Recovered  int
}

// Compiler builds templates from a resolved definition.
type Compiler struct {
	config Config
	log    *logger.Logger
	stats  Stats
}

// New creates a compiler.
func New(config Config, log *logger.Logger) *Compiler {
	return &Compiler{
		config: config,
		log:    logger.OrNop(log).WithComponent("compiler"),
	}
}

// Stats returns statistics of the last Compile call.
func (c *Compiler) Stats() Stats {
	return c.stats
}

// operation is the flattened view of one path x method.
type operation struct {
	path     string
	method   string
	params   []Parameter
	bodies   map[string][]Parameter // content type -> body parameters
	hasBody  bool
	consumes []string
}

// Compile walks every path and method of def and returns the non-empty templates.
func (c *Compiler) Compile(def map[string]any) ([]*model.Template, error) {
	c.stats = Stats{}
	set := model.NewSet()

	paths, _ := def["paths"].(map[string]any)
	if len(paths) == 0 {
		c.log.Warn("definition declares no paths")
		return nil, nil
	}
	rootConsumes := stringList(def["consumes"])

	for _, path := range definition.SortedKeys(paths) {
		item, ok := paths[path].(map[string]any)
		if !ok {
			continue
		}
		shared, _ := item["parameters"].([]any)

		for _, method := range c.methods() {
			op, ok := item[method].(map[string]any)
			if !ok {
				continue
			}
			c.stats.Operations++

			o := c.flatten(path, method, shared, op)
			if len(o.consumes) == 0 {
				o.consumes = rootConsumes
			}
			for _, tpl := range c.build(o) {
				set.Add(tpl)
			}
		}
	}

	templates := set.Templates()
	c.stats.Templates = len(templates)
	c.stats.Dropped = set.Len() - len(templates)
	for _, t := range templates {
		c.stats.Fields += t.Len()
	}

	c.log.Infof("compiled %d templates with %d fields from %d operations (%d empty dropped)",
		c.stats.Templates, c.stats.Fields, c.stats.Operations, c.stats.Dropped)
	return templates, nil
}

func (c *Compiler) methods() []string {
	if len(c.config.Methods) > 0 {
		return c.config.Methods
	}
	return Methods
}

// flatten merges path-level and operation-level parameters (the operation
// wins on name and location) and decomposes bodies.
func (c *Compiler) flatten(path, method string, shared []any, op map[string]any) *operation {
	o := &operation{
		path:     path,
		method:   method,
		bodies:   make(map[string][]Parameter),
		consumes: stringList(op["consumes"]),
	}

	own, _ := op["parameters"].([]any)
	declared := make([]map[string]any, 0, len(shared)+len(own))
	overridden := make(map[string]bool)
	for _, raw := range own {
		if p, ok := raw.(map[string]any); ok {
			overridden[str(p["in"])+"|"+str(p["name"])] = true
		}
	}
	for _, raw := range shared {
		if p, ok := raw.(map[string]any); ok && !overridden[str(p["in"])+"|"+str(p["name"])] {
			declared = append(declared, p)
		}
	}
	for _, raw := range own {
		if p, ok := raw.(map[string]any); ok {
			declared = append(declared, p)
		}
	}

	for _, param := range declared {
		c.addParameter(o, param)
	}

	if body, ok := op["requestBody"].(map[string]any); ok {
		c.addRequestBody(o, body)
	}
	return o
}

func (c *Compiler) addParameter(o *operation, param map[string]any) {
	in := str(param["in"])
	name := str(param["name"])

	if in == "body" {
		o.hasBody = true
		o.bodies[""] = append(o.bodies[""], c.decompose(name, param, model.Body)...)
		return
	}

	loc, ok := model.ParseLocation(in)
	if !ok || name == "" {
		err := errors.NewSchemaError(o.path+" "+name, "parameter has no usable name or location", nil)
		c.log.WithError(err).Warn("skipping parameter")
		return
	}
	if loc == model.FormData {
		o.hasBody = true
	}
	o.params = append(o.params, describe(param, loc))
}

// addRequestBody handles an OpenAPI 3 requestBody: one body per content type.
func (c *Compiler) addRequestBody(o *operation, body map[string]any) {
	content, _ := body["content"].(map[string]any)
	for _, ct := range definition.SortedKeys(content) {
		media, _ := content[ct].(map[string]any)
		o.hasBody = true
		o.bodies[ct] = append(o.bodies[ct], c.decompose("body", media, model.Body)...)
	}
}

// decompose turns a body schema into one parameter per property. When the
// schema cannot be interpreted the raw declaration is used instead.
func (c *Compiler) decompose(name string, holder map[string]any, loc model.Location) []Parameter {
	if name == "" {
		name = "body"
	}

	schema, ok := holder["schema"].(map[string]any)
	if !ok || schema["$ref"] != nil {
		err := errors.NewSchemaError(name, "body schema cannot be interpreted", nil)
		c.log.WithError(err).Warn("using raw parameter fields")
		c.stats.Recovered++
		p := describe(holder, loc)
		p.Name = name
		return []Parameter{p}
	}

	props, required := resolver.Properties(schema)
	if len(props) == 0 {
		p := describeProperty(name, schema, loc, boolean(holder["required"]))
		if p.Example == nil {
			p.Example = holder["example"]
		}
		return []Parameter{p}
	}

	out := make([]Parameter, 0, len(props))
	for _, prop := range definition.SortedKeys(props) {
		def, ok := props[prop].(map[string]any)
		if !ok {
			continue
		}
		out = append(out, describeProperty(prop, def, loc, required[prop]))
	}
	return out
}

// build creates one template per content type of a body-bearing operation,
// or a single template otherwise. Every template gets its own fields.
func (c *Compiler) build(o *operation) []*model.Template {
	if !o.hasBody {
		return []*model.Template{c.template(o, "", nil)}
	}

	var out []*model.Template

	// OpenAPI 3 bodies are keyed by their own content type.
	cts := make([]string, 0, len(o.bodies))
	for ct := range o.bodies {
		if ct != "" {
			cts = append(cts, ct)
		}
	}
	sort.Strings(cts)
	for _, ct := range cts {
		out = append(out, c.template(o, ct, o.bodies[ct]))
	}

	// Swagger 2 bodies and form data follow "consumes".
	if swaggerBody, ok := o.bodies[""]; ok || len(cts) == 0 {
		consumes := o.consumes
		if len(consumes) == 0 {
			consumes = []string{""}
		}
		for _, ct := range consumes {
			out = append(out, c.template(o, ct, swaggerBody))
		}
	}
	return out
}

func (c *Compiler) template(o *operation, contentType string, body []Parameter) *model.Template {
	tpl := model.NewTemplate(model.NewKey(o.path, o.method, contentType))
	for _, p := range o.params {
		c.add(tpl, p)
	}
	for _, p := range body {
		c.add(tpl, p)
	}
	return tpl
}

func (c *Compiler) add(tpl *model.Template, p Parameter) {
	if !tpl.Add(c.Field(tpl.Key, p)) {
		c.log.Debugf("%s: duplicate field %s|%s ignored", tpl.Name(), p.Location, p.Name)
	}
}

// Field creates the fuzz field for a parameter of the template identified by
// key. The key seeds the mutation strategy choice.
func (c *Compiler) Field(key model.Key, p Parameter) *model.Field {
	sample := p.Sample()

	var enum [][]byte
	for _, v := range p.Enum {
		enum = append(enum, Render(v))
	}

	category := p.Category()
	opts := c.config.Mutator
	opts.Seed = key.String() + " " + string(p.Location) + "|" + p.Name
	m := mutator.New(category, Render(sample), enum, opts)

	f := model.NewField(p.Name, p.Location, category, sample, m)
	f.Type = p.Type
	f.Format = p.Format
	f.Required = p.Required
	return f
}
