package aws

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Profile string
	Region  string

	// AssumeRole configuration
	AssumeRole *AssumeRoleCredentials
}

// AssumeRoleCredentials holds AssumeRole-specific configuration
type AssumeRoleCredentials struct {
	RoleARN     string
	SessionName string
	Duration    int32
	ExternalID  string
}

// Validate validates the AssumeRole configuration
func (arc *AssumeRoleCredentials) Validate() error {
	if arc.RoleARN == "" {
		return fmt.Errorf("role ARN cannot be empty when using AssumeRole")
	}

	if arc.Duration < 900 || arc.Duration > 43200 {
		return fmt.Errorf("session duration must be between 900 and 43200 seconds, got %d", arc.Duration)
	}

	if arc.SessionName == "" {
		return fmt.Errorf("session name cannot be empty")
	}

	return nil
}

// loadBaseConfig loads the base AWS configuration without AssumeRole
func loadBaseConfig(ctx context.Context, auth AuthConfig) (awssdk.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Set profile if specified
	if auth.Profile != "" && auth.Profile != "default" {
		opts = append(opts, config.WithSharedConfigProfile(auth.Profile))
	}

	// Set region
	if auth.Region != "" {
		opts = append(opts, config.WithRegion(auth.Region))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return awssdk.Config{}, &Error{
			Type:    ErrorTypePermission,
			Message: fmt.Sprintf("failed to load AWS config for profile '%s' in region '%s'", auth.Profile, auth.Region),
			Cause:   err,
		}
	}

	return awsConfig, nil
}

// applyAssumeRole applies AssumeRole configuration to the AWS config
func applyAssumeRole(awsConfig awssdk.Config, roleConfig *AssumeRoleCredentials) awssdk.Config {
	stsClient := sts.NewFromConfig(awsConfig)

	provider := stscreds.NewAssumeRoleProvider(stsClient, roleConfig.RoleARN, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = roleConfig.SessionName
		o.Duration = time.Duration(roleConfig.Duration) * time.Second
		if roleConfig.ExternalID != "" {
			o.ExternalID = &roleConfig.ExternalID
		}
	})

	assumedConfig := awsConfig.Copy()
	assumedConfig.Credentials = awssdk.NewCredentialsCache(provider)

	return assumedConfig
}
