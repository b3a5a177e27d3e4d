package connector

import (
	"sort"
	"strings"

	"github.com/alexisbeaulieu97/reconciler/pkg/diff"
)

// Comparison accumulates desired and live attribute values for one resource.
type Comparison struct {
	desired    map[string]string
	live       map[string]string
	mismatched []string
}

// NewComparison returns an empty comparison.
func NewComparison() *Comparison {
	return &Comparison{desired: map[string]string{}, live: map[string]string{}}
}

// Field records one attribute.
func (c *Comparison) Field(key, desired, live string) *Comparison {
	c.desired[key] = desired
	c.live[key] = live
	if desired != live {
		c.mismatched = append(c.mismatched, key)
	}
	return c
}

// Drifted reports whether any recorded attribute differs.
func (c *Comparison) Drifted() bool {
	return len(c.mismatched) > 0
}

// Mismatched returns the differing keys, sorted.
func (c *Comparison) Mismatched() []string {
	out := append([]string(nil), c.mismatched...)
	sort.Strings(out)
	return out
}

// Has reports whether key differs.
func (c *Comparison) Has(key string) bool {
	for _, k := range c.mismatched {
		if k == key {
			return true
		}
	}
	return false
}

// Diff renders the unified diff of desired and live attributes.
func (c *Comparison) Diff() string {
	return diff.Attributes(c.desired, c.live)
}

// Summary is a short human description such as "public, file_size_limit differ".
func (c *Comparison) Summary() string {
	keys := c.Mismatched()
	if len(keys) == 0 {
		return "matches desired state"
	}
	verb := "differs"
	if len(keys) > 1 {
		verb = "differ"
	}
	return strings.Join(keys, ", ") + " " + verb
}
