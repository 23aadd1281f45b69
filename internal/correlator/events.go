package correlator

import (
	"fmt"
	"sort"

	"github.com/moolen/kubeaudit/internal/models"
	"github.com/moolen/kubeaudit/internal/snapshot"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// maxEventMessage caps the event message quoted in evidence, in runes
const maxEventMessage = 120

// indexEvents groups pod events by "namespace/name", keeping input order
func indexEvents(events []corev1.Event) map[string][]corev1.Event {
	out := make(map[string][]corev1.Event)
	for _, ev := range events {
		obj := ev.InvolvedObject
		if obj.Kind != "Pod" || obj.Name == "" {
			continue
		}
		ns := obj.Namespace
		if ns == "" {
			ns = snapshot.DefaultNamespace
		}
		key := ns + "/" + obj.Name
		out[key] = append(out[key], ev)
	}
	return out
}

// relevantEvents returns up to MaxEvents events: Warning before Normal,
// then most recent first. Ties keep input order.
func relevantEvents(events []corev1.Event) []corev1.Event {
	sorted := make([]corev1.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		wi, wj := sorted[i].Type == corev1.EventTypeWarning, sorted[j].Type == corev1.EventTypeWarning
		if wi != wj {
			return wi
		}
		return snapshot.EventTime(sorted[i]).After(snapshot.EventTime(sorted[j]))
	})
	if len(sorted) > MaxEvents {
		sorted = sorted[:MaxEvents]
	}
	return sorted
}

func eventEvidence(ev corev1.Event) models.Evidence {
	reason := ev.Reason
	if reason == "" {
		reason = "?"
	}
	msg := []rune(ev.Message)
	if len(msg) > maxEventMessage {
		msg = msg[:maxEventMessage]
	}

	var ts string
	if t := snapshot.EventTime(ev); !t.IsZero() {
		ts = snapshot.FormatTime(metav1.NewTime(t))
	}
	return models.Evidence{
		Kind:      "Event",
		Namespace: ev.InvolvedObject.Namespace,
		Name:      ev.InvolvedObject.Name,
		Timestamp: ts,
		Pointer:   fmt.Sprintf("Reason: %s - %s", reason, string(msg)),
	}
}

// evidence returns the pod evidence followed by the relevant events
func (pc *podContext) evidence(detail string) []models.Evidence {
	ev := []models.Evidence{{
		Kind:      "Pod",
		Namespace: pc.Namespace,
		Name:      pc.Name,
		Timestamp: snapshot.FormatTime(pc.pod.CreationTimestamp),
		Pointer:   detail,
	}}
	for _, e := range relevantEvents(pc.events) {
		ev = append(ev, eventEvidence(e))
	}
	return ev
}
