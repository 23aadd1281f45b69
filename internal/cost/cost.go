// Package cost projects the monthly spend of a snapshot's deployments from
// their resource requests and estimates how much allocatable capacity is
// left unrequested.
package cost

import (
	"math"

	"github.com/moolen/kubeaudit/internal/logging"
	"github.com/moolen/kubeaudit/internal/models"
	"github.com/moolen/kubeaudit/internal/quantity"
	"github.com/moolen/kubeaudit/internal/snapshot"
	"k8s.io/utils/ptr"
)

// HoursPerMonth is the fixed billing month used for projections
const HoursPerMonth = 730

// Pricing holds hourly on-demand prices in USD
type Pricing struct {
	CPUHour   float64 `json:"cpu_hour"`    // per core
	RAMGBHour float64 `json:"ram_gb_hour"` // per GB
}

// DefaultPricing returns the built-in prices
func DefaultPricing() Pricing {
	return Pricing{CPUHour: 0.03, RAMGBHour: 0.004}
}

// Estimator computes cost estimates for snapshots
type Estimator struct {
	pricing Pricing
	logger  *logging.Logger
}

// NewEstimator creates an estimator using pricing
func NewEstimator(pricing Pricing) *Estimator {
	return &Estimator{
		pricing: pricing,
		logger:  logging.GetLogger("cost"),
	}
}

// Pricing returns the prices the estimator uses
func (e *Estimator) Pricing() Pricing {
	return e.pricing
}

// Estimate returns the per-deployment and cluster-wide monthly projection.
// Replicas default to 1 when unset; an explicit 0 costs nothing.
func (e *Estimator) Estimate(snap *snapshot.Snapshot) models.CostEstimate {
	est := models.CostEstimate{
		Deployments:     make([]models.DeploymentCost, 0, len(snap.Deployments)),
		NamespaceTotals: make(map[string]float64),
	}

	var requestedCPU, requestedMem, total float64
	for _, d := range snap.Deployments {
		ns, name := snapshot.Namespace(d.ObjectMeta), snapshot.Name(d.ObjectMeta)
		replicas := ptr.Deref(d.Spec.Replicas, 1)

		var cpu, mem float64
		for _, c := range d.Spec.Template.Spec.Containers {
			cpu += quantity.CPUOf(c.Resources.Requests)
			mem += quantity.MemoryOf(c.Resources.Requests)
		}

		monthly := float64(replicas) * (cpu*e.pricing.CPUHour + mem*e.pricing.RAMGBHour) * HoursPerMonth
		est.Deployments = append(est.Deployments, models.DeploymentCost{
			Namespace:      ns,
			Name:           name,
			Replicas:       replicas,
			CPURequests:    round(cpu, 4),
			MemRequestsGB:  round(mem, 4),
			MonthlyCostUSD: round(monthly, 2),
		})
		est.NamespaceTotals[ns] += monthly
		total += round(monthly, 2)

		requestedCPU += float64(replicas) * cpu
		requestedMem += float64(replicas) * mem
	}

	for ns, v := range est.NamespaceTotals {
		est.NamespaceTotals[ns] = round(v, 2)
	}
	est.MonthlyTotalUSD = round(total, 2)
	est.WastePct = e.waste(snap, requestedCPU, requestedMem)

	e.logger.DebugWithFields("cost estimated",
		logging.Field("deployments", len(est.Deployments)),
		logging.Field("monthly_total_usd", est.MonthlyTotalUSD),
		logging.Field("waste_pct", est.WastePct),
	)
	return est
}

// waste is the unrequested share of allocatable capacity in percent. CPU is
// preferred, memory is the fallback, and no node data yields 0.
func (e *Estimator) waste(snap *snapshot.Snapshot, requestedCPU, requestedMem float64) float64 {
	var allocCPU, allocMem float64
	for _, n := range snap.Nodes {
		allocCPU += quantity.CPUOf(n.Status.Allocatable)
		allocMem += quantity.MemoryOf(n.Status.Allocatable)
	}

	switch {
	case allocCPU > 0:
		return round(math.Max(0, 1-requestedCPU/allocCPU)*100, 1)
	case allocMem > 0:
		return round(math.Max(0, 1-requestedMem/allocMem)*100, 1)
	default:
		return 0
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
