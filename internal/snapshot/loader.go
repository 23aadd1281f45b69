package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/moolen/kubeaudit/internal/logging"
	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	"sigs.k8s.io/yaml"
)

// ErrEmptyInput is returned when a snapshot document has no content
var ErrEmptyInput = errors.New("snapshot input is empty")

// SkippedItem records one list entry that could not be decoded
type SkippedItem struct {
	Key   string
	Index int
	Err   error
}

// LoadReport lists the entries dropped or altered while decoding
type LoadReport struct {
	Skipped []SkippedItem
	Zeroed  []ZeroedQuantity
}

// OK reports whether every item decoded as written
func (r *LoadReport) OK() bool {
	return len(r.Skipped) == 0 && len(r.Zeroed) == 0
}

func (r *LoadReport) zero(key string, index int, zeroed []ZeroedQuantity) {
	logger := logging.GetLogger("snapshot")
	for _, z := range zeroed {
		z.Key = key
		z.Index = index
		r.Zeroed = append(r.Zeroed, z)
		logger.WarnWithFields("unparseable quantity read as 0",
			logging.Field("key", key),
			logging.Field("index", index),
			logging.Field("path", z.Path),
			logging.Field("value", z.Value),
		)
	}
}

func (r *LoadReport) skip(key string, index int, err error) {
	r.Skipped = append(r.Skipped, SkippedItem{Key: key, Index: index, Err: err})
	logging.GetLogger("snapshot").WarnWithFields("skipping undecodable snapshot item",
		logging.Field("key", key),
		logging.Field("index", index),
		logging.Field("error", err),
	)
}

// LoadFile reads and decodes a JSON or YAML snapshot file
func LoadFile(path string) (*Snapshot, *LoadReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read snapshot %q: %w", path, err)
	}
	snap, report, err := Load(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode snapshot %q: %w", path, err)
	}
	return snap, report, nil
}

// Load decodes a JSON or YAML snapshot document. Each list item is decoded
// on its own. Resource quantities that do not parse are read as 0; an item
// that still does not fit its Kubernetes type is skipped. Both are recorded
// in the report instead of failing the whole document.
func Load(data []byte) (*Snapshot, *LoadReport, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, ErrEmptyInput
	}

	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid snapshot document: %w", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, nil, fmt.Errorf("snapshot must be an object: %w", err)
	}
	if doc == nil {
		return nil, nil, ErrEmptyInput
	}

	report := &LoadReport{}
	snap := &Snapshot{
		ClusterName: decodeString(doc["cluster_name"]),
		Timestamp:   decodeString(doc["timestamp"]),
	}
	snap.Nodes = decodeList[corev1.Node](doc, "nodes", report)
	snap.Deployments = decodeList[appsv1.Deployment](doc, "deployments", report)
	snap.ReplicaSets = decodeList[appsv1.ReplicaSet](doc, "replicasets", report)
	snap.Pods = decodeList[corev1.Pod](doc, "pods", report)
	snap.Services = decodeList[corev1.Service](doc, "services", report)
	snap.Events = decodeList[corev1.Event](doc, "events", report)
	snap.HPAs = decodeList[autoscalingv2.HorizontalPodAutoscaler](doc, "hpa", report)
	snap.ClusterRoles = decodeList[rbacv1.ClusterRole](doc, "rbac_roles", report)
	snap.NetworkPolicies = decodeList[networkingv1.NetworkPolicy](doc, "networkpolicies", report)
	snap.PVCs = decodeList[corev1.PersistentVolumeClaim](doc, "pvcs", report)

	return snap, report, nil
}

// decodeList decodes doc[key] item by item
func decodeList[T any](doc map[string]json.RawMessage, key string, report *LoadReport) []T {
	raw, ok := doc[key]
	if !ok || isNull(raw) {
		return []T{}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		report.skip(key, -1, fmt.Errorf("expected a list: %w", err))
		return []T{}
	}

	out := make([]T, 0, len(items))
	for i, item := range items {
		v, err := decodeItem[T](item, key, i, report)
		if err != nil {
			report.skip(key, i, err)
			continue
		}
		out = append(out, v)
	}
	return out
}

// decodeItem decodes item as T. When that fails, unparseable quantities are
// zeroed and the decode is retried once.
func decodeItem[T any](item json.RawMessage, key string, index int, report *LoadReport) (T, error) {
	var v T
	err := json.Unmarshal(item, &v)
	if err == nil {
		return v, nil
	}

	fixed, zeroed, zerr := zeroInvalidQuantities(item)
	if zerr != nil || fixed == nil {
		return v, err
	}
	var retry T
	if err := json.Unmarshal(fixed, &retry); err != nil {
		return v, err
	}
	report.zero(key, index, zeroed)
	return retry, nil
}

func decodeString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// WriteFile encodes snap to path. Files ending in .yaml or .yml are written
// as YAML, everything else as indented JSON.
func WriteFile(snap *Snapshot, path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(snap)
	default:
		data, err = json.MarshalIndent(snap, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot %q: %w", path, err)
	}
	return nil
}
