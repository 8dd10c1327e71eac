package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Clients bundles the service clients one CLI invocation needs
type Clients struct {
	CloudFormation *Client
	EC2            EC2API
	S3             S3API
	CloudFront     CloudFrontAPI
}

// CreateClients creates real AWS service clients with authentication
func CreateClients(ctx context.Context, auth AuthConfig, wait WaitConfig) (*Clients, error) {
	awsConfig, err := loadBaseConfig(ctx, auth)
	if err != nil {
		return nil, err
	}

	// Apply AssumeRole if specified
	if auth.AssumeRole != nil {
		awsConfig = applyAssumeRole(awsConfig, auth.AssumeRole)
	}

	cfClient := NewRateLimitedClient(cloudformation.NewFromConfig(awsConfig), auth.Region)

	return &Clients{
		CloudFormation: NewClient(cfClient, auth.Region, wait),
		EC2:            ec2.NewFromConfig(awsConfig),
		S3:             s3.NewFromConfig(awsConfig),
		CloudFront:     cloudfront.NewFromConfig(awsConfig),
	}, nil
}
