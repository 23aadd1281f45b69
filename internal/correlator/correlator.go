// Package correlator diagnoses failing pods by combining container status
// with the events recorded against the pod.
//
// Three failure modes are detected, in fixed priority per container status:
// CrashLoopBackOff, OOMKilled and image pull failures. Each match yields one
// finding carrying the pod and up to MaxEvents related events as evidence.
package correlator

import (
	"fmt"
	"runtime/debug"

	"github.com/moolen/kubeaudit/internal/graph"
	"github.com/moolen/kubeaudit/internal/logging"
	"github.com/moolen/kubeaudit/internal/models"
	"github.com/moolen/kubeaudit/internal/snapshot"
	corev1 "k8s.io/api/core/v1"
)

// MaxEvents caps the events attached to a single finding
const MaxEvents = 3

// Failure records a detector that errored or panicked on one container
type Failure struct {
	Namespace string
	Pod       string
	Container string
	Detector  string
	Err       error
}

func (f Failure) Error() string {
	return fmt.Sprintf("detector %s failed for pod %s/%s container %s: %v",
		f.Detector, f.Namespace, f.Pod, f.Container, f.Err)
}

// Result is the outcome of a correlation pass
type Result struct {
	// Findings sorted by severity, ties in pod order
	Findings []models.Finding
	Failures []Failure
}

// podContext is everything a detector may look at for one pod
type podContext struct {
	Namespace  string
	Name       string
	pod        *corev1.Pod
	events     []corev1.Event
	deployment string
}

// detector inspects a single container status. A nil finding means no match.
type detector struct {
	name   string
	detect func(pc *podContext, cs corev1.ContainerStatus) (*models.Finding, error)
}

// Correlator runs the failure detectors over a snapshot's pods
type Correlator struct {
	detectors []detector
	logger    *logging.Logger
}

// New creates a correlator with the built-in detectors
func New() *Correlator {
	return &Correlator{
		detectors: []detector{
			{name: "crashloop", detect: detectCrashLoop},
			{name: "oomkilled", detect: detectOOMKilled},
			{name: "imagepull", detect: detectImagePull},
		},
		logger: logging.GetLogger("correlator"),
	}
}

// Run scans every pod. A failing detector is logged and recorded in
// Result.Failures; the remaining detectors and pods are still scanned.
func (c *Correlator) Run(snap *snapshot.Snapshot) Result {
	res := Result{Findings: []models.Finding{}}
	events := indexEvents(snap.Events)
	owners := graph.NewOwnerResolver(snap.ReplicaSets)

	for i := range snap.Pods {
		pod := &snap.Pods[i]
		pc := &podContext{
			Namespace: snapshot.Namespace(pod.ObjectMeta),
			Name:      snapshot.Name(pod.ObjectMeta),
			pod:       pod,
		}
		pc.events = events[pc.Namespace+"/"+pc.Name]
		for _, ref := range pod.OwnerReferences {
			if dep, ok := owners.Deployment(pc.Namespace, ref); ok {
				pc.deployment = dep
				break
			}
		}

		for _, cs := range pod.Status.ContainerStatuses {
			for _, d := range c.detectors {
				f, err := c.run(d, pc, cs)
				if err != nil {
					failure := Failure{
						Namespace: pc.Namespace,
						Pod:       pc.Name,
						Container: cs.Name,
						Detector:  d.name,
						Err:       err,
					}
					c.logger.WarnWithFields("detector failed",
						logging.Field("detector", d.name),
						logging.Field("pod", pc.Namespace+"/"+pc.Name),
						logging.Field("container", cs.Name),
						logging.Field("error", err),
					)
					res.Failures = append(res.Failures, failure)
					continue
				}
				if f != nil {
					res.Findings = append(res.Findings, *f)
				}
			}
		}
	}

	models.SortBySeverity(res.Findings)
	c.logger.DebugWithFields("pods correlated",
		logging.Field("pods", len(snap.Pods)),
		logging.Field("findings", len(res.Findings)),
		logging.Field("failed", len(res.Failures)),
	)
	return res
}

// run calls one detector inside a recover boundary
func (c *Correlator) run(d detector, pc *podContext, cs corev1.ContainerStatus) (f *models.Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Debug("detector %s panic stack:\n%s", d.name, debug.Stack())
			f, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return d.detect(pc, cs)
}
