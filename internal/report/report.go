package report

import (
	"math"
	"time"
)

// DaysPerMonth is the average month length used for monthly cost estimates.
const DaysPerMonth = 30.44

// Costs holds the estimated spend for one instance. Nil values mean no spot
// price was available.
type Costs struct {
	Hourly  *float64 `json:"hourly"`
	Monthly *float64 `json:"monthly"`
}

// Instance is one scanned EC2 instance with its cost estimate
type Instance struct {
	InstanceID       string            `json:"instanceId"`
	InstanceType     string            `json:"instanceType"`
	State            string            `json:"state"`
	AvailabilityZone string            `json:"availabilityZone"`
	LaunchTime       time.Time         `json:"launchTime"`
	Tags             map[string]string `json:"tags"`
	SpotPrice        *float64          `json:"spotPrice"`
	Costs            Costs             `json:"costs"`
}

// Summary aggregates the scanned instances. Terminated instances are
// excluded from the cost totals.
type Summary struct {
	TotalInstances   int     `json:"totalInstances"`
	RunningInstances int     `json:"runningInstances"`
	TotalHourlyCost  float64 `json:"totalHourlyCost"`
	TotalMonthlyCost float64 `json:"totalMonthlyCost"`
}

// Report is the result of one scan invocation. It is written once and never
// mutated afterwards.
type Report struct {
	Timestamp time.Time  `json:"timestamp"`
	Region    string     `json:"region"`
	Instances []Instance `json:"instances"`
	Summary   Summary    `json:"summary"`
}

// CalculateCosts derives hourly and monthly estimates from a spot price.
// The hourly cost is the spot price itself; the monthly estimate multiplies
// it by 24 hours times the average month length.
func CalculateCosts(spotPrice *float64) Costs {
	if spotPrice == nil {
		return Costs{}
	}

	hourly := roundTo(*spotPrice, 4)
	monthly := roundTo(hourly*24*DaysPerMonth, 2)
	return Costs{
		Hourly:  &hourly,
		Monthly: &monthly,
	}
}

// New builds a report for the given region and instance records, computing
// the summary
func New(region string, instances []Instance) *Report {
	if instances == nil {
		instances = []Instance{}
	}

	summary := Summary{
		TotalInstances: len(instances),
	}
	for _, inst := range instances {
		if inst.State == "running" {
			summary.RunningInstances++
		}
		if inst.State == "terminated" {
			continue
		}
		if inst.Costs.Hourly != nil {
			summary.TotalHourlyCost += *inst.Costs.Hourly
		}
		if inst.Costs.Monthly != nil {
			summary.TotalMonthlyCost += *inst.Costs.Monthly
		}
	}

	return &Report{
		Timestamp: time.Now().UTC(),
		Region:    region,
		Instances: instances,
		Summary:   summary,
	}
}

func roundTo(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}
