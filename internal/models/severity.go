package models

import (
	"strings"
)

// Severity is the impact level of a finding or signal
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// unrankedSeverity sorts after every known severity
const unrankedSeverity = 99

// Rank returns the sort rank of a severity, critical first (0) and low last (3).
// Unknown severities rank after all known ones.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return unrankedSeverity
	}
}

// IsValid reports whether s is one of the four known severities
func (s Severity) IsValid() bool {
	return s.Rank() != unrankedSeverity
}

func (s Severity) String() string {
	return string(s)
}

// ParseSeverity parses a severity string case-insensitively
func ParseSeverity(value string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(value)))
	if !s.IsValid() {
		return "", NewValidationError("invalid severity %q (must be critical, high, medium or low)", value)
	}
	return s, nil
}

// Severities lists all severities in rank order
func Severities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}
}

// Category is the audit pillar a finding belongs to
type Category string

const (
	CategoryReliability  Category = "reliability"
	CategorySecurity     Category = "security"
	CategoryCost         Category = "cost"
	CategoryArchitecture Category = "architecture"
)

// IsValid reports whether c is one of the four known categories
func (c Category) IsValid() bool {
	switch c {
	case CategoryReliability, CategorySecurity, CategoryCost, CategoryArchitecture:
		return true
	}
	return false
}

func (c Category) String() string {
	return string(c)
}

// ParseCategory parses a category string case-insensitively
func ParseCategory(value string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(value)))
	if !c.IsValid() {
		return "", NewValidationError("invalid category %q (must be reliability, security, cost or architecture)", value)
	}
	return c, nil
}

// Categories lists all categories
func Categories() []Category {
	return []Category{CategoryReliability, CategorySecurity, CategoryCost, CategoryArchitecture}
}
