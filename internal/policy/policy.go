package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/flatstone/awsmgr/internal/aws"
	"github.com/flatstone/awsmgr/internal/logging"
)

// Document is an S3 bucket policy document
type Document struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// Statement is one policy statement
type Statement struct {
	Sid       string     `json:"Sid"`
	Effect    string     `json:"Effect"`
	Principal Principal  `json:"Principal"`
	Action    string     `json:"Action"`
	Resource  string     `json:"Resource"`
	Condition *Condition `json:"Condition,omitempty"`
}

type Principal struct {
	Service string `json:"Service"`
}

type Condition struct {
	StringEquals map[string]string `json:"StringEquals"`
}

// Attacher builds and attaches bucket policies that let a CloudFront
// distribution read a bucket's objects
type Attacher struct {
	s3         aws.S3API
	cloudfront aws.CloudFrontAPI
	region     string
}

// NewAttacher creates an attacher for the given region
func NewAttacher(s3Client aws.S3API, cfClient aws.CloudFrontAPI, region string) *Attacher {
	return &Attacher{
		s3:         s3Client,
		cloudfront: cfClient,
		region:     region,
	}
}

// Attach overwrites the bucket's policy with one granting the CloudFront
// service principal read access, scoped by source ARN to the given
// distribution. When no distribution ID is supplied, the sole distribution
// whose origin references the bucket is used; zero or multiple candidates
// is an error with nothing mutated.
func (a *Attacher) Attach(ctx context.Context, bucket, distributionID string) error {
	var arn string
	var err error

	if distributionID != "" {
		arn, err = a.distributionARN(ctx, distributionID)
	} else {
		arn, err = a.resolveDistributionARN(ctx, bucket)
	}
	if err != nil {
		return err
	}

	return a.AttachARN(ctx, bucket, arn)
}

// AttachARN overwrites the bucket's policy with one scoped to the given
// distribution ARN. An empty ARN produces a policy without the source ARN
// condition.
func (a *Attacher) AttachARN(ctx context.Context, bucket, distributionARN string) error {
	doc, err := BuildDocument(bucket, distributionARN)
	if err != nil {
		return err
	}

	policy := string(doc)
	_, err = a.s3.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
		Bucket: &bucket,
		Policy: &policy,
	})
	if err != nil {
		return fmt.Errorf("failed to attach policy to bucket %q: %w", bucket, err)
	}

	if distributionARN == "" {
		logging.WithField("bucket", bucket).Info("attached bucket policy without a distribution scope")
		return nil
	}
	logging.WithField("bucket", bucket).Infof("attached bucket policy for distribution %s", distributionARN)
	return nil
}

// distributionARN looks up the ARN of a distribution by ID
func (a *Attacher) distributionARN(ctx context.Context, distributionID string) (string, error) {
	output, err := a.cloudfront.GetDistribution(ctx, &cloudfront.GetDistributionInput{
		Id: &distributionID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get CloudFront distribution %q: %w", distributionID, err)
	}
	if output.Distribution == nil || output.Distribution.ARN == nil {
		return "", fmt.Errorf("CloudFront distribution %q has no ARN", distributionID)
	}
	return *output.Distribution.ARN, nil
}

// resolveDistributionARN scans all distributions for one whose origin
// points at the bucket. Exactly one match is required.
func (a *Attacher) resolveDistributionARN(ctx context.Context, bucket string) (string, error) {
	originDomains := map[string]bool{
		bucket + ".s3." + a.region + ".amazonaws.com": true,
		bucket + ".s3.amazonaws.com":                  true,
	}

	var matches []string
	var marker *string
	for {
		output, err := a.cloudfront.ListDistributions(ctx, &cloudfront.ListDistributionsInput{
			Marker: marker,
		})
		if err != nil {
			return "", fmt.Errorf("failed to list CloudFront distributions: %w", err)
		}
		if output.DistributionList == nil {
			break
		}

		for _, dist := range output.DistributionList.Items {
			if dist.ARN == nil || dist.Origins == nil {
				continue
			}
			for _, origin := range dist.Origins.Items {
				if origin.DomainName != nil && originDomains[*origin.DomainName] {
					matches = append(matches, *dist.ARN)
					break
				}
			}
		}

		if output.DistributionList.IsTruncated == nil || !*output.DistributionList.IsTruncated {
			break
		}
		marker = output.DistributionList.NextMarker
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no CloudFront distribution found with an origin for bucket %q; pass --cloudfront_distribution_id explicitly", bucket)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("found %d CloudFront distributions with an origin for bucket %q (%s); pass --cloudfront_distribution_id explicitly",
			len(matches), bucket, strings.Join(matches, ", "))
	}
}

// BuildDocument builds the full policy document. The source ARN condition
// is omitted when no distribution ARN is available. The document always
// replaces the bucket's existing policy wholesale.
func BuildDocument(bucket, distributionARN string) ([]byte, error) {
	stmt := Statement{
		Sid:       "AllowCloudFrontServicePrincipal",
		Effect:    "Allow",
		Principal: Principal{Service: "cloudfront.amazonaws.com"},
		Action:    "s3:GetObject",
		Resource:  "arn:aws:s3:::" + bucket + "/*",
	}
	if distributionARN != "" {
		stmt.Condition = &Condition{
			StringEquals: map[string]string{"AWS:SourceArn": distributionARN},
		}
	}

	doc := Document{
		Version:   "2012-10-17",
		Statement: []Statement{stmt},
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bucket policy: %w", err)
	}
	return data, nil
}
