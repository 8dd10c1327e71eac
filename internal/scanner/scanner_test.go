package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEC2API implements aws.EC2API for testing
type mockEC2API struct {
	describeInstancesFunc        func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	describeSpotPriceHistoryFunc func(ctx context.Context, params *ec2.DescribeSpotPriceHistoryInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSpotPriceHistoryOutput, error)
	spotPriceCalls               int
}

func (m *mockEC2API) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if m.describeInstancesFunc != nil {
		return m.describeInstancesFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeInstancesOutput{}, nil
}

func (m *mockEC2API) DescribeSpotPriceHistory(ctx context.Context, params *ec2.DescribeSpotPriceHistoryInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSpotPriceHistoryOutput, error) {
	m.spotPriceCalls++
	if m.describeSpotPriceHistoryFunc != nil {
		return m.describeSpotPriceHistoryFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeSpotPriceHistoryOutput{}, nil
}

func instance(id string, instanceType types.InstanceType, state types.InstanceStateName, az string) types.Instance {
	return types.Instance{
		InstanceId:   awssdk.String(id),
		InstanceType: instanceType,
		State:        &types.InstanceState{Name: state},
		Placement:    &types.Placement{AvailabilityZone: awssdk.String(az)},
		LaunchTime:   awssdk.Time(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)),
	}
}

func spotPriceOutput(price string) *ec2.DescribeSpotPriceHistoryOutput {
	return &ec2.DescribeSpotPriceHistoryOutput{
		SpotPriceHistory: []types.SpotPrice{
			{SpotPrice: awssdk.String(price)},
		},
	}
}

func TestScan(t *testing.T) {
	inst := instance("i-0abc123", types.InstanceTypeT3Medium, types.InstanceStateNameRunning, "us-east-1a")
	inst.Tags = []types.Tag{
		{Key: awssdk.String("Name"), Value: awssdk.String("web")},
		{Key: awssdk.String("organization"), Value: awssdk.String("keep-mine")},
	}

	mock := &mockEC2API{
		describeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			return &ec2.DescribeInstancesOutput{
				Reservations: []types.Reservation{
					{Instances: []types.Instance{inst}},
				},
			}, nil
		},
		describeSpotPriceHistoryFunc: func(ctx context.Context, params *ec2.DescribeSpotPriceHistoryInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSpotPriceHistoryOutput, error) {
			require.Len(t, params.InstanceTypes, 1)
			assert.Equal(t, types.InstanceTypeT3Medium, params.InstanceTypes[0])
			assert.Equal(t, "us-east-1a", *params.AvailabilityZone)
			assert.Equal(t, []string{"Linux/UNIX"}, params.ProductDescriptions)
			return spotPriceOutput("0.0416"), nil
		},
	}

	s := NewScanner(mock, "us-east-1", map[string]string{
		"organization": "flatstone",
		"environment":  "dev",
	})
	r, err := s.Scan(context.Background())
	require.NoError(t, err)

	require.Len(t, r.Instances, 1)
	rec := r.Instances[0]
	assert.Equal(t, "i-0abc123", rec.InstanceID)
	assert.Equal(t, "t3.medium", rec.InstanceType)
	assert.Equal(t, "running", rec.State)
	assert.Equal(t, "us-east-1a", rec.AvailabilityZone)

	// Instance tags win over default tags.
	assert.Equal(t, "keep-mine", rec.Tags["organization"])
	assert.Equal(t, "dev", rec.Tags["environment"])
	assert.Equal(t, "web", rec.Tags["Name"])

	require.NotNil(t, rec.Costs.Hourly)
	assert.Equal(t, 0.0416, *rec.Costs.Hourly)
	assert.Equal(t, 1, r.Summary.RunningInstances)
}

func TestScan_SpotPriceCached(t *testing.T) {
	mock := &mockEC2API{
		describeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			return &ec2.DescribeInstancesOutput{
				Reservations: []types.Reservation{
					{Instances: []types.Instance{
						instance("i-1", types.InstanceTypeT3Medium, types.InstanceStateNameRunning, "us-east-1a"),
						instance("i-2", types.InstanceTypeT3Medium, types.InstanceStateNameRunning, "us-east-1a"),
						instance("i-3", types.InstanceTypeT3Medium, types.InstanceStateNameRunning, "us-east-1b"),
					}},
				},
			}, nil
		},
		describeSpotPriceHistoryFunc: func(ctx context.Context, params *ec2.DescribeSpotPriceHistoryInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSpotPriceHistoryOutput, error) {
			return spotPriceOutput("0.0416"), nil
		},
	}

	s := NewScanner(mock, "us-east-1", nil)
	r, err := s.Scan(context.Background())
	require.NoError(t, err)

	assert.Len(t, r.Instances, 3)
	assert.Equal(t, 2, mock.spotPriceCalls, "same type and zone must share one price lookup")
}

func TestScan_SpotPriceFailureIsNotFatal(t *testing.T) {
	mock := &mockEC2API{
		describeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			return &ec2.DescribeInstancesOutput{
				Reservations: []types.Reservation{
					{Instances: []types.Instance{
						instance("i-1", types.InstanceTypeM5Large, types.InstanceStateNameRunning, "us-east-1a"),
					}},
				},
			}, nil
		},
		describeSpotPriceHistoryFunc: func(ctx context.Context, params *ec2.DescribeSpotPriceHistoryInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSpotPriceHistoryOutput, error) {
			return nil, errors.New("throttled")
		},
	}

	s := NewScanner(mock, "us-east-1", nil)
	r, err := s.Scan(context.Background())
	require.NoError(t, err)

	require.Len(t, r.Instances, 1)
	assert.Nil(t, r.Instances[0].SpotPrice)
	assert.Nil(t, r.Instances[0].Costs.Hourly)
}

func TestScan_ListFailure(t *testing.T) {
	mock := &mockEC2API{
		describeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			return nil, errors.New("access denied")
		},
	}

	s := NewScanner(mock, "us-east-1", nil)
	_, err := s.Scan(context.Background())
	assert.Error(t, err)
}

func TestScan_NoInstances(t *testing.T) {
	s := NewScanner(&mockEC2API{}, "eu-west-1", nil)
	r, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, r.Instances)
	assert.Equal(t, "eu-west-1", r.Region)
}
