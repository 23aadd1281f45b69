package correlator

import (
	"fmt"

	"github.com/moolen/kubeaudit/internal/models"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
)

const (
	reasonCrashLoop        = "CrashLoopBackOff"
	reasonOOMKilled        = "OOMKilled"
	reasonImagePullBackOff = "ImagePullBackOff"
	reasonErrImagePull     = "ErrImagePull"

	limitNotSet  = "not set"
	limitUnknown = "unknown"
)

// defaultMemoryLimit is suggested for OOMKilled containers without a limit
var defaultMemoryLimit = resource.MustParse("512Mi")

func waitingReason(cs corev1.ContainerStatus) string {
	if cs.State.Waiting == nil {
		return ""
	}
	return cs.State.Waiting.Reason
}

func containerName(cs corev1.ContainerStatus) string {
	if cs.Name == "" {
		return "?"
	}
	return cs.Name
}

func detectCrashLoop(pc *podContext, cs corev1.ContainerStatus) (*models.Finding, error) {
	if waitingReason(cs) != reasonCrashLoop {
		return nil, nil
	}
	ctr := containerName(cs)
	exitCode := "?"
	if t := cs.LastTerminationState.Terminated; t != nil {
		exitCode = fmt.Sprintf("%d", t.ExitCode)
	}

	f := models.NewFinding(
		models.FindingID("crashloop", pc.Namespace, pc.Name, ctr),
		models.CategoryReliability,
		models.SeverityCritical,
		fmt.Sprintf("Pod %s/%s container '%s' is in CrashLoopBackOff (restarts: %d, exit code: %s). "+
			"Likely an application crash on startup or configuration error.",
			pc.Namespace, pc.Name, ctr, cs.RestartCount, exitCode),
		pc.evidence(fmt.Sprintf("Container '%s' CrashLoopBackOff - restarts: %d, last exit code: %s",
			ctr, cs.RestartCount, exitCode)),
		models.RemediationDetail{
			Description: fmt.Sprintf("Check logs for container '%s'. Common causes: missing env vars, "+
				"bad config, entrypoint error.", ctr),
			Commands: []string{
				fmt.Sprintf("kubectl logs %s -n %s -c %s --previous", pc.Name, pc.Namespace, ctr),
				fmt.Sprintf("kubectl describe pod %s -n %s", pc.Name, pc.Namespace),
			},
		},
	)
	return &f, nil
}

func detectOOMKilled(pc *podContext, cs corev1.ContainerStatus) (*models.Finding, error) {
	t := cs.LastTerminationState.Terminated
	if t == nil || t.Reason != reasonOOMKilled {
		return nil, nil
	}
	ctr := containerName(cs)
	current, suggested := pc.memoryLimit(cs.Name)

	target := fmt.Sprintf("deployment/%s", pc.deployment)
	if pc.deployment == "" {
		target = fmt.Sprintf("deployment -n %s $(kubectl get pod %s -n %s -o jsonpath='{.metadata.ownerReferences[0].name}' | sed 's/-[a-z0-9]*$//')",
			pc.Namespace, pc.Name, pc.Namespace)
	} else {
		target += " -n " + pc.Namespace
	}

	f := models.NewFinding(
		models.FindingID("oomkilled", pc.Namespace, pc.Name, ctr),
		models.CategoryReliability,
		models.SeverityCritical,
		fmt.Sprintf("Pod %s/%s container '%s' was OOMKilled (memory limit: %s). "+
			"The container exceeded its memory limit and was terminated by the kernel.",
			pc.Namespace, pc.Name, ctr, current),
		pc.evidence(fmt.Sprintf("Container '%s' OOMKilled - restarts: %d, current memory limit: %s",
			ctr, cs.RestartCount, current)),
		models.RemediationDetail{
			Description: fmt.Sprintf("Increase memory limit for '%s' or investigate memory leaks. "+
				"Current limit: %s.", ctr, current),
			Commands: []string{
				fmt.Sprintf("kubectl set resources %s -c %s --limits=memory=%s", target, ctr, suggested),
			},
			PatchYAML: fmt.Sprintf("# Increase memory limit for container %s\nresources:\n  limits:\n    memory: %q",
				ctr, suggested),
		},
	)
	return &f, nil
}

func detectImagePull(pc *podContext, cs corev1.ContainerStatus) (*models.Finding, error) {
	reason := waitingReason(cs)
	if reason != reasonImagePullBackOff && reason != reasonErrImagePull {
		return nil, nil
	}
	ctr := containerName(cs)
	image := cs.Image
	if image == "" {
		image = "unknown"
	}

	f := models.NewFinding(
		models.FindingID("imagepull", pc.Namespace, pc.Name, ctr),
		models.CategoryReliability,
		models.SeverityHigh,
		fmt.Sprintf("Pod %s/%s container '%s' cannot pull image '%s' (%s). Likely causes: image does not exist, "+
			"tag missing, or registry auth not configured.", pc.Namespace, pc.Name, ctr, image, reason),
		pc.evidence(fmt.Sprintf("Container '%s' %s - image: %s", ctr, reason, image)),
		models.RemediationDetail{
			Description: fmt.Sprintf("Verify image '%s' exists and is accessible. "+
				"Check imagePullSecrets if using a private registry.", image),
			Commands: []string{
				fmt.Sprintf("kubectl describe pod %s -n %s", pc.Name, pc.Namespace),
				fmt.Sprintf("kubectl get secrets -n %s -o name | grep docker", pc.Namespace),
			},
		},
	)
	return &f, nil
}

// memoryLimit returns the configured memory limit of the named container in
// the pod spec and a suggested replacement: double the current limit, or
// defaultMemoryLimit when none is usable.
func (pc *podContext) memoryLimit(name string) (current, suggested string) {
	for _, c := range pc.pod.Spec.Containers {
		if c.Name != name {
			continue
		}
		q, ok := c.Resources.Limits[corev1.ResourceMemory]
		if !ok {
			return limitNotSet, defaultMemoryLimit.String()
		}
		doubled := resource.NewQuantity(q.Value()*2, resource.BinarySI)
		if doubled.Cmp(defaultMemoryLimit) < 0 {
			return q.String(), defaultMemoryLimit.String()
		}
		return q.String(), doubled.String()
	}
	return limitUnknown, defaultMemoryLimit.String()
}
