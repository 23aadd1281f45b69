// Package quantity converts Kubernetes resource quantity strings into plain
// numbers: CPU into cores and memory into gigabytes.
//
// Both parsers are total. Empty or malformed input yields 0 instead of an
// error, so a single bad manifest never breaks an audit.
package quantity

import (
	"math"
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"
)

const bytesPerGiB = 1 << 30

// memorySuffix maps a quantity suffix to its multiplier in gigabytes.
// Binary suffixes are relative to Gi, decimal suffixes to G (10^9 bytes).
type memorySuffix struct {
	suffix     string
	multiplier float64
}

// memorySuffixes is ordered longest first so "Ki" is tried before "K".
var memorySuffixes = []memorySuffix{
	{"Ki", 1.0 / (1024 * 1024)},
	{"Mi", 1.0 / 1024},
	{"Gi", 1},
	{"Ti", 1024},
	{"Pi", 1024 * 1024},
	{"Ei", 1024 * 1024 * 1024},
	{"k", 1e3 / 1e9},
	{"K", 1e3 / 1e9},
	{"M", 1e6 / 1e9},
	{"G", 1},
	{"T", 1e3},
	{"P", 1e6},
	{"E", 1e9},
}

// ParseCPU converts a CPU quantity to cores. "500m" is 0.5, "2" is 2.
func ParseCPU(value string) float64 {
	s := strings.TrimSpace(value)
	if s == "" {
		return 0
	}
	if strings.HasSuffix(s, "m") {
		return parseFloat(strings.TrimSuffix(s, "m")) / 1000
	}
	return parseFloat(s)
}

// ParseMemory converts a memory quantity to gigabytes. "1Gi" and "1024Mi"
// are both 1. Unsuffixed values are bytes.
func ParseMemory(value string) float64 {
	s := strings.TrimSpace(value)
	if s == "" {
		return 0
	}
	for _, ms := range memorySuffixes {
		if strings.HasSuffix(s, ms.suffix) {
			return parseFloat(strings.TrimSuffix(s, ms.suffix)) * ms.multiplier
		}
	}
	return parseFloat(s) / bytesPerGiB
}

// CPUOf returns the cores of the cpu entry of a resource list, 0 when absent
func CPUOf(list corev1.ResourceList) float64 {
	q, ok := list[corev1.ResourceCPU]
	if !ok {
		return 0
	}
	return ParseCPU(q.String())
}

// MemoryOf returns the gigabytes of the memory entry of a resource list, 0 when absent
func MemoryOf(list corev1.ResourceList) float64 {
	q, ok := list[corev1.ResourceMemory]
	if !ok {
		return 0
	}
	return ParseMemory(q.String())
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
