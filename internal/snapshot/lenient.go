package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"k8s.io/apimachinery/pkg/api/resource"
)

// quantityMaps are the object keys whose values are resource quantities
var quantityMaps = map[string]struct{}{
	"requests":    {},
	"limits":      {},
	"allocatable": {},
	"capacity":    {},
	"hard":        {},
	"used":        {},
}

// ZeroedQuantity records a quantity that did not parse and was read as 0
type ZeroedQuantity struct {
	Key   string
	Index int
	Path  string
	Value string
}

// zeroInvalidQuantities rewrites every unparseable quantity in item to "0".
// It returns the rewritten item and the paths it changed, or nil when the
// item is not a JSON object or needed no change.
func zeroInvalidQuantities(item json.RawMessage) (json.RawMessage, []ZeroedQuantity, error) {
	dec := json.NewDecoder(bytes.NewReader(item))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, nil, err
	}

	var zeroed []ZeroedQuantity
	walkQuantities(v, "", func(path string, value any) string {
		raw := quantityString(value)
		if _, err := resource.ParseQuantity(raw); err == nil {
			return raw
		}
		zeroed = append(zeroed, ZeroedQuantity{Path: path, Value: raw})
		return "0"
	})
	if len(zeroed) == 0 {
		return nil, nil, nil
	}

	out, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return out, zeroed, nil
}

// walkQuantities calls fix for every value of a quantity map below v and
// stores the returned string in its place
func walkQuantities(v any, path string, fix func(path string, value any) string) {
	switch node := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := joinPath(path, k)
			if _, ok := quantityMaps[k]; ok {
				if m, isMap := node[k].(map[string]any); isMap {
					names := make([]string, 0, len(m))
					for name := range m {
						names = append(names, name)
					}
					sort.Strings(names)
					for _, name := range names {
						m[name] = fix(child+"."+name, m[name])
					}
					continue
				}
			}
			walkQuantities(node[k], child, fix)
		}
	case []any:
		for i := range node {
			walkQuantities(node[i], path+"["+strconv.Itoa(i)+"]", fix)
		}
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func quantityString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}
