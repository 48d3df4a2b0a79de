// Package rejection implements a process-wide static table of NPHIES
// rejection codes plus payer-specific code maps, loaded at init time via
// gopkg.in/yaml.v3.
package rejection

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Category enumerates the rejection categories.
type Category string

const (
	CategoryEligibility   Category = "eligibility"
	CategoryAuthorization Category = "authorization"
	CategoryDocumentation Category = "documentation"
	CategoryCoding        Category = "coding"
	CategoryPricing       Category = "pricing"
	CategoryDuplicate     Category = "duplicate"
	CategoryPolicy        Category = "policy"
	CategoryTechnical     Category = "technical"
	CategoryIncomplete    Category = "incomplete"
)

// Severity enumerates the rejection severities.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Entry is a single rejection code entry.
type Entry struct {
	Code                   string   `yaml:"code"`
	Description            string   `yaml:"description"`
	Category               Category `yaml:"category"`
	Severity               Severity `yaml:"severity"`
	AutoResubmit           bool     `yaml:"autoResubmit"`
	RequiredAction         string   `yaml:"requiredAction"`
	EstResolutionTime      string   `yaml:"estResolutionTime"`
	ExpectedSuccessRate    float64  `yaml:"expectedSuccessRate"`
}

//go:embed codes.yaml
var defaultCodesYAML []byte

type catalogFile struct {
	Codes []Entry `yaml:"codes"`
	// Payers maps payer name -> payer account id -> payer code -> standard code.
	Payers map[string]map[string]map[string]string `yaml:"payers"`
}

// Catalog is the immutable, process-wide rejection table. Build once at
// process start via Load or LoadDefault; query methods are safe for
// concurrent use without locking because the catalog never mutates after
// construction.
type Catalog struct {
	entries map[string]Entry
	payers  map[string]map[string]map[string]string
}

// LoadDefault parses the embedded default catalog (the literal table
// recovered from original_source/config/rejection_codes.py).
func LoadDefault() (*Catalog, error) {
	return Load(defaultCodesYAML)
}

// Load parses a catalog document in the same shape as codes.yaml,
// allowing deployments to override or extend the built-in table.
func Load(doc []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(doc, &f); err != nil {
		return nil, fmt.Errorf("parse rejection catalog: %w", err)
	}
	c := &Catalog{
		entries: make(map[string]Entry, len(f.Codes)),
		payers:  f.Payers,
	}
	for _, e := range f.Codes {
		c.entries[e.Code] = e
	}
	if c.payers == nil {
		c.payers = make(map[string]map[string]map[string]string)
	}
	return c, nil
}

// All returns every catalog entry, sorted by code.
func (c *Catalog) All() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Get returns the catalog entry for code, if present.
func (c *Catalog) Get(code string) (Entry, bool) {
	e, ok := c.entries[code]
	return e, ok
}

// AutoResubmittable reports whether code is tagged auto-resubmittable. A
// code absent from the catalog is never auto-resubmittable.
func (c *Catalog) AutoResubmittable(code string) bool {
	e, ok := c.entries[code]
	return ok && e.AutoResubmit
}

// CodesByCategory returns every code in the given category.
func (c *Catalog) CodesByCategory(cat Category) []string {
	var out []string
	for code, e := range c.entries {
		if e.Category == cat {
			out = append(out, code)
		}
	}
	return out
}

// CodesBySeverity returns every code at the given severity.
func (c *Catalog) CodesBySeverity(sev Severity) []string {
	var out []string
	for code, e := range c.entries {
		if e.Severity == sev {
			out = append(out, code)
		}
	}
	return out
}

// CodesWithSuccessRate returns every code whose expected success rate is
// at least threshold.
func (c *Catalog) CodesWithSuccessRate(threshold float64) []string {
	var out []string
	for code, e := range c.entries {
		if e.ExpectedSuccessRate >= threshold {
			out = append(out, code)
		}
	}
	return out
}

// MapPayerCode resolves a payer-specific rejection code to a standard
// code, or returns ("", false) if no mapping exists.
func (c *Catalog) MapPayerCode(payer, payerAccount, payerCode string) (string, bool) {
	accounts, ok := c.payers[payer]
	if !ok {
		return "", false
	}
	codes, ok := accounts[payerAccount]
	if !ok {
		return "", false
	}
	std, ok := codes[payerCode]
	return std, ok
}
