package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Save writes the report as an indented JSON file named
// <prefix>_<YYYYMMDD_HHMMSS>.json under dir, creating the directory if
// needed. Returns the written path.
func Save(r *Report, dir, prefix string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory %q: %w", dir, err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	name := fmt.Sprintf("%s_%s.json", prefix, time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report %q: %w", path, err)
	}
	return path, nil
}

// Render prints the report summary and an instance table to w
func Render(r *Report, w io.Writer) {
	fmt.Fprintf(w, "\nAWS RESOURCE REPORT - %s\n", r.Region)
	fmt.Fprintf(w, "Generated at: %s\n\n", r.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "Total instances:   %d\n", r.Summary.TotalInstances)
	fmt.Fprintf(w, "Running instances: %d\n", r.Summary.RunningInstances)
	fmt.Fprintf(w, "Total hourly cost:  $%.4f\n", r.Summary.TotalHourlyCost)
	fmt.Fprintf(w, "Total monthly cost: $%.2f\n\n", r.Summary.TotalMonthlyCost)

	if len(r.Instances) == 0 {
		fmt.Fprintln(w, "No instances found.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Instance ID", "Type", "State", "AZ", "Hourly", "Monthly", "Tags"})

	for _, inst := range r.Instances {
		table.Append([]string{
			inst.InstanceID,
			inst.InstanceType,
			inst.State,
			inst.AvailabilityZone,
			formatCost(inst.Costs.Hourly, 4),
			formatCost(inst.Costs.Monthly, 2),
			formatTags(inst.Tags),
		})
	}
	table.Render()
}

func formatCost(v *float64, places int) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("$%.*f", places, *v)
}

func formatTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}

	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+tags[key])
	}
	return strings.Join(pairs, ";")
}
