package aws

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"
)

// RateLimitedClient wraps the CloudFormation API with client-side rate
// limiting and error classification. Waiter polling and the scan loop both
// go through this client, and CloudFormation's default account limit is
// roughly 10 requests per second.
type RateLimitedClient struct {
	client  CloudFormationAPI
	limiter *rate.Limiter
	region  string
}

// NewRateLimitedClient creates a new rate-limited client
// Conservative rate limiting: 5 requests per second with burst of 10
func NewRateLimitedClient(client CloudFormationAPI, region string) *RateLimitedClient {
	limiter := rate.NewLimiter(rate.Limit(5), 10)

	return &RateLimitedClient{
		client:  client,
		limiter: limiter,
		region:  region,
	}
}

// DescribeStacks implements CloudFormationAPI with rate limiting
func (r *RateLimitedClient) DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	output, err := r.client.DescribeStacks(ctx, params, optFns...)
	return output, r.handleError(err)
}

// CreateStack implements CloudFormationAPI with rate limiting
func (r *RateLimitedClient) CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	output, err := r.client.CreateStack(ctx, params, optFns...)
	return output, r.handleError(err)
}

// UpdateStack implements CloudFormationAPI with rate limiting
func (r *RateLimitedClient) UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	output, err := r.client.UpdateStack(ctx, params, optFns...)
	return output, r.handleError(err)
}

// GetTemplate implements CloudFormationAPI with rate limiting
func (r *RateLimitedClient) GetTemplate(ctx context.Context, params *cloudformation.GetTemplateInput, optFns ...func(*cloudformation.Options)) (*cloudformation.GetTemplateOutput, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	output, err := r.client.GetTemplate(ctx, params, optFns...)
	return output, r.handleError(err)
}

// DescribeStackEvents implements CloudFormationAPI with rate limiting
func (r *RateLimitedClient) DescribeStackEvents(ctx context.Context, params *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	output, err := r.client.DescribeStackEvents(ctx, params, optFns...)
	return output, r.handleError(err)
}

func (r *RateLimitedClient) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return &Error{
			Type:    ErrorTypeRateLimit,
			Message: "rate limit context cancelled",
			Cause:   err,
		}
	}
	return nil
}

// handleError converts AWS errors to our custom error types
func (r *RateLimitedClient) handleError(err error) error {
	if err == nil {
		return nil
	}

	// Validation errors carry create/update semantics (missing stack,
	// no-op update) that the stack client inspects, so they pass through
	// untouched.
	var awsErr smithy.APIError
	if errors.As(err, &awsErr) {
		switch awsErr.ErrorCode() {
		case "ValidationError":
			return err
		case "AccessDenied", "UnauthorizedOperation":
			return &Error{
				Type:    ErrorTypePermission,
				Message: "insufficient AWS permissions",
				Cause:   err,
			}
		case "Throttling", "RequestLimitExceeded", "TooManyRequestsException":
			return &Error{
				Type:    ErrorTypeRateLimit,
				Message: "AWS API rate limit exceeded",
				Cause:   err,
			}
		case "InvalidParameterValue":
			if strings.Contains(awsErr.ErrorMessage(), "region") {
				return &Error{
					Type:    ErrorTypeInvalidRegion,
					Message: "invalid AWS region: " + r.region,
					Cause:   err,
				}
			}
		}
	}

	// Handle context errors
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{
			Type:    ErrorTypeNetwork,
			Message: "request timeout or cancelled",
			Cause:   err,
		}
	}

	// Handle network-related errors
	errMsg := err.Error()
	if strings.Contains(errMsg, "no such host") ||
		strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "timeout") {
		return &Error{
			Type:    ErrorTypeNetwork,
			Message: "network connectivity issue",
			Cause:   err,
		}
	}

	// Check if it's already our custom error type
	var customErr *Error
	if errors.As(err, &customErr) {
		return err
	}

	// Default to unknown error
	return &Error{
		Type:    ErrorTypeUnknown,
		Message: "unexpected AWS API error",
		Cause:   err,
	}
}
