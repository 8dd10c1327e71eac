package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
)

// stackCapabilities are always passed on create/update. The solution
// templates provision IAM roles and use macros, so all three are required.
var stackCapabilities = []types.Capability{
	types.CapabilityCapabilityIam,
	types.CapabilityCapabilityNamedIam,
	types.CapabilityCapabilityAutoExpand,
}

// WaitConfig controls the polling budget for stack operations. CloudFront
// distributions routinely take 15+ minutes to stabilize, so the defaults are
// far larger than the SDK waiter defaults.
type WaitConfig struct {
	Delay       time.Duration
	MaxAttempts int
}

// DefaultWaitConfig polls every 30 seconds for up to an hour.
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{Delay: 30 * time.Second, MaxAttempts: 120}
}

// MaxWait returns the total wait budget (delay times attempt count).
func (w WaitConfig) MaxWait() time.Duration {
	return w.Delay * time.Duration(w.MaxAttempts)
}

// Client wraps the CloudFormation API with the stack lifecycle operations
// used by the deployer
type Client struct {
	cf     CloudFormationAPI
	region string
	wait   WaitConfig
}

// NewClient creates a new CloudFormation client wrapper
func NewClient(cf CloudFormationAPI, region string, wait WaitConfig) *Client {
	if wait.Delay <= 0 || wait.MaxAttempts <= 0 {
		wait = DefaultWaitConfig()
	}
	return &Client{
		cf:     cf,
		region: region,
		wait:   wait,
	}
}

// Region returns the region the client operates in
func (c *Client) Region() string {
	return c.region
}

// StackExists reports whether a stack with the given name exists. A
// ValidationError saying the stack does not exist is a normal negative
// answer, not an error.
func (c *Client) StackExists(ctx context.Context, stackName string) (bool, error) {
	_, err := c.cf.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: &stackName,
	})
	if err != nil {
		if isStackMissing(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to describe stack %q: %w", stackName, err)
	}
	return true, nil
}

// Describe returns detailed information about a stack
func (c *Client) Describe(ctx context.Context, stackName string) (*types.Stack, error) {
	output, err := c.cf.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: &stackName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe stack %q: %w", stackName, err)
	}
	if len(output.Stacks) == 0 {
		return nil, fmt.Errorf("stack %q not found", stackName)
	}
	return &output.Stacks[0], nil
}

// Outputs returns the stack's output values keyed by output key
func (c *Client) Outputs(ctx context.Context, stackName string) (map[string]string, error) {
	stack, err := c.Describe(ctx, stackName)
	if err != nil {
		return nil, err
	}

	outputs := make(map[string]string)
	for _, o := range stack.Outputs {
		if o.OutputKey != nil && o.OutputValue != nil {
			outputs[*o.OutputKey] = *o.OutputValue
		}
	}
	return outputs, nil
}

// Parameters returns the stack's current parameter values keyed by parameter key
func (c *Client) Parameters(ctx context.Context, stackName string) (map[string]string, error) {
	stack, err := c.Describe(ctx, stackName)
	if err != nil {
		return nil, err
	}

	params := make(map[string]string)
	for _, p := range stack.Parameters {
		if p.ParameterKey != nil && p.ParameterValue != nil {
			params[*p.ParameterKey] = *p.ParameterValue
		}
	}
	return params, nil
}

// TemplateBody returns the current template body of a deployed stack
func (c *Client) TemplateBody(ctx context.Context, stackName string) (string, error) {
	output, err := c.cf.GetTemplate(ctx, &cloudformation.GetTemplateInput{
		StackName: &stackName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get template for stack %q: %w", stackName, err)
	}
	if output.TemplateBody == nil {
		return "", fmt.Errorf("stack %q returned an empty template body", stackName)
	}
	return *output.TemplateBody, nil
}

// Create submits a stack creation request
func (c *Client) Create(ctx context.Context, stackName, templateBody string, params []types.Parameter) error {
	_, err := c.cf.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    &stackName,
		TemplateBody: &templateBody,
		Parameters:   params,
		Capabilities: stackCapabilities,
	})
	if err != nil {
		return fmt.Errorf("failed to create stack %q: %w", stackName, err)
	}
	return nil
}

// Update submits a stack update request. An empty templateBody reuses the
// currently deployed template. Returns ErrNoChanges when CloudFormation
// reports that nothing would change.
func (c *Client) Update(ctx context.Context, stackName, templateBody string, params []types.Parameter) error {
	input := &cloudformation.UpdateStackInput{
		StackName:    &stackName,
		Parameters:   params,
		Capabilities: stackCapabilities,
	}
	if templateBody != "" {
		input.TemplateBody = &templateBody
	} else {
		input.UsePreviousTemplate = awssdk.Bool(true)
	}

	_, err := c.cf.UpdateStack(ctx, input)
	if err != nil {
		if isNoUpdates(err) {
			return ErrNoChanges
		}
		return fmt.Errorf("failed to update stack %q: %w", stackName, err)
	}
	return nil
}

// WaitCreate blocks until the stack reaches CREATE_COMPLETE or the wait
// budget is exhausted
func (c *Client) WaitCreate(ctx context.Context, stackName string) error {
	waiter := cloudformation.NewStackCreateCompleteWaiter(c.cf, func(o *cloudformation.StackCreateCompleteWaiterOptions) {
		o.MinDelay = c.wait.Delay
		o.MaxDelay = c.wait.Delay
	})
	if err := waiter.Wait(ctx, &cloudformation.DescribeStacksInput{StackName: &stackName}, c.wait.MaxWait()); err != nil {
		return fmt.Errorf("stack %q did not stabilize after create: %w", stackName, err)
	}
	return nil
}

// WaitUpdate blocks until the stack reaches UPDATE_COMPLETE or the wait
// budget is exhausted
func (c *Client) WaitUpdate(ctx context.Context, stackName string) error {
	waiter := cloudformation.NewStackUpdateCompleteWaiter(c.cf, func(o *cloudformation.StackUpdateCompleteWaiterOptions) {
		o.MinDelay = c.wait.Delay
		o.MaxDelay = c.wait.Delay
	})
	if err := waiter.Wait(ctx, &cloudformation.DescribeStacksInput{StackName: &stackName}, c.wait.MaxWait()); err != nil {
		return fmt.Errorf("stack %q did not stabilize after update: %w", stackName, err)
	}
	return nil
}

// FailureReasons collects the status reasons of failed resource events so a
// terminal stack failure can be reported with the provider's own messages
func (c *Client) FailureReasons(ctx context.Context, stackName string) ([]string, error) {
	output, err := c.cf.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{
		StackName: &stackName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe events for stack %q: %w", stackName, err)
	}

	var reasons []string
	for _, event := range output.StackEvents {
		status := string(event.ResourceStatus)
		if !strings.HasSuffix(status, "_FAILED") {
			continue
		}
		if event.ResourceStatusReason == nil {
			continue
		}
		resource := ""
		if event.LogicalResourceId != nil {
			resource = *event.LogicalResourceId + ": "
		}
		reasons = append(reasons, resource+*event.ResourceStatusReason)
	}
	return reasons, nil
}

// isStackMissing detects the ValidationError CloudFormation returns when a
// stack name does not resolve
func isStackMissing(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" &&
			strings.Contains(apiErr.ErrorMessage(), "does not exist")
	}
	return false
}

// isNoUpdates detects the ValidationError returned for a no-op update
func isNoUpdates(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" &&
			strings.Contains(apiErr.ErrorMessage(), "No updates are to be performed")
	}
	return false
}
