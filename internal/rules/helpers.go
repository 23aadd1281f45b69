package rules

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/moolen/kubeaudit/internal/models"
	"github.com/moolen/kubeaudit/internal/quantity"
	"github.com/moolen/kubeaudit/internal/snapshot"
	"gopkg.in/yaml.v3"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
)

// obj is a YAML mapping; yaml.v3 emits map keys sorted
type obj = map[string]interface{}

// workload identifies a deployment
type workload struct {
	Namespace string
	Name      string
	dep       *appsv1.Deployment
}

func newWorkload(d *appsv1.Deployment) workload {
	return workload{
		Namespace: snapshot.Namespace(d.ObjectMeta),
		Name:      snapshot.Name(d.ObjectMeta),
		dep:       d,
	}
}

// evidence returns the deployment evidence item. pointer overrides the
// default kubectl inspection command.
func (w workload) evidence(pointer string) models.Evidence {
	if pointer == "" {
		pointer = fmt.Sprintf("kubectl get deployment %s -n %s -o yaml", w.Name, w.Namespace)
	}
	return models.Evidence{
		Kind:      "Deployment",
		Namespace: w.Namespace,
		Name:      w.Name,
		Timestamp: snapshot.FormatTime(w.dep.CreationTimestamp),
		Pointer:   pointer,
	}
}

// podCPU sums the CPU requests of the pod template's containers
func (w workload) podCPU() float64 {
	total := 0.0
	for _, c := range w.dep.Spec.Template.Spec.Containers {
		total += quantity.CPUOf(c.Resources.Requests)
	}
	return total
}

// forEachContainer calls fn for every container of every deployment, in
// snapshot order
func forEachContainer(snap *snapshot.Snapshot, fn func(w workload, idx int, c corev1.Container) error) error {
	for i := range snap.Deployments {
		w := newWorkload(&snap.Deployments[i])
		for idx, c := range w.dep.Spec.Template.Spec.Containers {
			if err := fn(w, idx, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// containerName returns the container name, or a positional placeholder
// so finding ids stay unique
func containerName(idx int, c corev1.Container) string {
	if c.Name == "" {
		return fmt.Sprintf("container-%d", idx)
	}
	return c.Name
}

// renderPatch encodes v as YAML below a "# comment" header line
func renderPatch(comment string, v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("failed to render patch: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to render patch: %w", err)
	}
	return "# " + comment + "\n" + strings.TrimRight(buf.String(), "\n"), nil
}

// isLatestTag reports whether image uses ":latest" or carries no tag or
// digest at all
func isLatestTag(image string) bool {
	last := image[strings.LastIndex(image, "/")+1:]
	if !strings.Contains(last, ":") && !strings.Contains(last, "@") {
		return true
	}
	return strings.HasSuffix(image, ":latest")
}

// imageRepository strips the tag from image, keeping registry ports intact
func imageRepository(image string) string {
	if at := strings.Index(image, "@"); at >= 0 {
		image = image[:at]
	}
	slash := strings.LastIndex(image, "/")
	if colon := strings.LastIndex(image, ":"); colon > slash {
		return image[:colon]
	}
	return image
}
