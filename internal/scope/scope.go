// Package scope restricts fuzzing to selected operations.
package scope

import (
	"regexp"
	"strings"
	"sync"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/model"
)

// DestructivePatterns match operation paths that end a session or destroy
// the account used for fuzzing.
var DestructivePatterns = []string{
	`(?i)/logout(/|$)`,
	`(?i)/signout(/|$)`,
	`(?i)/sign-out(/|$)`,
	`(?i)/delete-account(/|$)`,
	`(?i)/unsubscribe(/|$)`,
	`(?i)/reset-password(/|$)`,
}

// Rules selects operations by path.
type Rules struct {
	// IncludePatterns keep only operations whose "METHOD /path" matches one of them.
	IncludePatterns []string
	// ExcludePatterns drop operations whose "METHOD /path" matches; they win over includes.
	ExcludePatterns []string
	// SkipDestructive adds DestructivePatterns to the excludes.
	SkipDestructive bool
}

// Checker decides whether an operation is fuzzed.
type Checker struct {
	mu             sync.RWMutex
	includeRegexps []*regexp.Regexp
	excludeRegexps []*regexp.Regexp
}

// NewChecker compiles the rules.
func NewChecker(rules Rules) (*Checker, error) {
	c := &Checker{}

	for _, pattern := range rules.IncludePatterns {
		if err := c.AddIncludePattern(pattern); err != nil {
			return nil, err
		}
	}

	excludes := rules.ExcludePatterns
	if rules.SkipDestructive {
		excludes = append(append([]string(nil), excludes...), DestructivePatterns...)
	}
	for _, pattern := range excludes {
		if err := c.AddExcludePattern(pattern); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Allows reports whether the operation method + path is in scope.
func (c *Checker) Allows(method, path string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	subject := strings.ToUpper(method) + " " + model.NormalizePath(path)

	// Check exclude patterns first (higher priority)
	for _, re := range c.excludeRegexps {
		if re.MatchString(subject) {
			return false
		}
	}

	if len(c.includeRegexps) == 0 {
		return true
	}
	for _, re := range c.includeRegexps {
		if re.MatchString(subject) {
			return true
		}
	}
	return false
}

// Filter returns the templates in scope, in order, and how many were dropped.
func (c *Checker) Filter(templates []*model.Template) ([]*model.Template, int) {
	kept := make([]*model.Template, 0, len(templates))
	for _, t := range templates {
		if c.Allows(t.Key.Method, t.Key.Path) {
			kept = append(kept, t)
		}
	}
	return kept, len(templates) - len(kept)
}

// AddIncludePattern adds an include pattern.
func (c *Checker) AddIncludePattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.includeRegexps = append(c.includeRegexps, re)
	return nil
}

// AddExcludePattern adds an exclude pattern.
func (c *Checker) AddExcludePattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.excludeRegexps = append(c.excludeRegexps, re)
	return nil
}
