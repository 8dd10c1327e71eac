package scanner

import (
	"context"
	"fmt"
	"strconv"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/flatstone/awsmgr/internal/aws"
	"github.com/flatstone/awsmgr/internal/logging"
	"github.com/flatstone/awsmgr/internal/report"
)

// Scanner lists EC2 instances in a region and builds cost estimates from
// current spot prices
type Scanner struct {
	ec2         aws.EC2API
	region      string
	defaultTags map[string]string
}

// NewScanner creates a scanner for the given region. defaultTags are merged
// into each instance's tags; tags already present on the instance win.
func NewScanner(client aws.EC2API, region string, defaultTags map[string]string) *Scanner {
	return &Scanner{
		ec2:         client,
		region:      region,
		defaultTags: defaultTags,
	}
}

// Scan lists all instances in the region and returns a report with one
// entry per instance. A missing spot price is recorded as unavailable, not
// treated as a scan failure.
func (s *Scanner) Scan(ctx context.Context) (*report.Report, error) {
	instances, err := s.listInstances(ctx)
	if err != nil {
		return nil, err
	}
	logging.Infof("found %d instances in region %s", len(instances), s.region)

	// Spot prices are keyed by instance type and availability zone, so one
	// lookup covers every instance of the same shape in the same zone.
	priceCache := make(map[string]*float64)

	records := make([]report.Instance, 0, len(instances))
	for _, inst := range instances {
		rec := s.toRecord(inst)

		cacheKey := rec.InstanceType + "/" + rec.AvailabilityZone
		price, ok := priceCache[cacheKey]
		if !ok {
			price, err = s.spotPrice(ctx, inst.InstanceType, rec.AvailabilityZone)
			if err != nil {
				logging.WithField("instance", rec.InstanceID).Warnf("failed to get spot price: %v", err)
				price = nil
			}
			priceCache[cacheKey] = price
		}

		rec.SpotPrice = price
		rec.Costs = report.CalculateCosts(price)
		records = append(records, rec)
	}

	return report.New(s.region, records), nil
}

// listInstances returns every instance in the region, following pagination
func (s *Scanner) listInstances(ctx context.Context) ([]types.Instance, error) {
	var instances []types.Instance

	paginator := ec2.NewDescribeInstancesPaginator(s.ec2, &ec2.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe instances in region %q: %w", s.region, err)
		}
		for _, reservation := range output.Reservations {
			instances = append(instances, reservation.Instances...)
		}
	}

	return instances, nil
}

// spotPrice fetches the most recent Linux/UNIX spot price for an instance
// type in an availability zone
func (s *Scanner) spotPrice(ctx context.Context, instanceType types.InstanceType, az string) (*float64, error) {
	output, err := s.ec2.DescribeSpotPriceHistory(ctx, &ec2.DescribeSpotPriceHistoryInput{
		InstanceTypes:       []types.InstanceType{instanceType},
		AvailabilityZone:    awssdk.String(az),
		ProductDescriptions: []string{"Linux/UNIX"},
		StartTime:           awssdk.Time(time.Now().UTC()),
		MaxResults:          awssdk.Int32(1),
	})
	if err != nil {
		return nil, err
	}

	if len(output.SpotPriceHistory) == 0 || output.SpotPriceHistory[0].SpotPrice == nil {
		return nil, nil
	}

	price, err := strconv.ParseFloat(*output.SpotPriceHistory[0].SpotPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("unparseable spot price %q: %w", *output.SpotPriceHistory[0].SpotPrice, err)
	}
	return &price, nil
}

// toRecord converts an SDK instance to a report record
func (s *Scanner) toRecord(inst types.Instance) report.Instance {
	rec := report.Instance{
		Tags: make(map[string]string),
	}
	if inst.InstanceId != nil {
		rec.InstanceID = *inst.InstanceId
	}
	rec.InstanceType = string(inst.InstanceType)
	if inst.State != nil {
		rec.State = string(inst.State.Name)
	}
	if inst.Placement != nil && inst.Placement.AvailabilityZone != nil {
		rec.AvailabilityZone = *inst.Placement.AvailabilityZone
	}
	if inst.LaunchTime != nil {
		rec.LaunchTime = *inst.LaunchTime
	}

	for _, tag := range inst.Tags {
		if tag.Key != nil && tag.Value != nil {
			rec.Tags[*tag.Key] = *tag.Value
		}
	}
	for key, value := range s.defaultTags {
		if _, ok := rec.Tags[key]; !ok {
			rec.Tags[key] = value
		}
	}

	return rec
}
