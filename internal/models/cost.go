package models

// DeploymentCost is the monthly cost projection of a single deployment
type DeploymentCost struct {
	Namespace      string  `json:"namespace"`
	Name           string  `json:"name"`
	Replicas       int32   `json:"replicas"`
	CPURequests    float64 `json:"cpu_requests"`    // cores per pod
	MemRequestsGB  float64 `json:"mem_requests_gb"` // GB per pod
	MonthlyCostUSD float64 `json:"monthly_cost_usd"`
}

// CostEstimate is the cluster-wide cost summary
type CostEstimate struct {
	Deployments     []DeploymentCost   `json:"deployments"`
	NamespaceTotals map[string]float64 `json:"namespace_totals"`
	MonthlyTotalUSD float64            `json:"monthly_total_usd"`
	WastePct        float64            `json:"waste_pct"`
}

// RiskScore is the bounded risk score derived from a finding or signal set
type RiskScore struct {
	Score int    `json:"score"` // 0-100
	Grade string `json:"grade"` // A-F
	Count int    `json:"count"` // number of scored items
}
