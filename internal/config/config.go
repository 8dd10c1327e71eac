package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultRegion is used when neither the CLI nor the config file names one.
const DefaultRegion = "us-east-1"

// Config holds the application configuration loaded from the YAML file.
// It is loaded once per invocation and never mutated afterwards.
type Config struct {
	Region    string              `yaml:"region"`
	Solutions map[string]Solution `yaml:"solutions"`
	Tags      Tags                `yaml:"tags"`
	S3        S3                  `yaml:"s3"`
	Messaging Messaging           `yaml:"messaging"`
	Output    Output              `yaml:"output"`
	Waiter    Waiter              `yaml:"waiter"`
}

// Solution describes one deployable CloudFormation solution
type Solution struct {
	TemplatePath string            `yaml:"template_path"`
	ContentDir   string            `yaml:"content_dir"`
	DeployedDir  string            `yaml:"deployed_dir"`
	Parameters   map[string]string `yaml:"parameters"`
}

// Tags are default resource tags applied as template parameters and merged
// into scanned instance records
type Tags struct {
	Organization string `yaml:"organization"`
	BusinessUnit string `yaml:"business_unit"`
	Environment  string `yaml:"environment"`
}

// S3 holds static content bucket settings
type S3 struct {
	Bucket string `yaml:"bucket"`
}

// Messaging holds the contact destinations for the messaging solution
type Messaging struct {
	Email Email `yaml:"email"`
	SMS   SMS   `yaml:"sms"`
}

type Email struct {
	Destination string `yaml:"destination"`
}

type SMS struct {
	Destination  string `yaml:"destination"`
	Country      string `yaml:"country"`
	OriginatorID string `yaml:"originator_id"`
}

// Output controls where cost reports are written
type Output struct {
	ReportDir    string `yaml:"report_dir"`
	ReportPrefix string `yaml:"report_prefix"`
}

// Waiter tunes the stack operation polling budget
type Waiter struct {
	DelaySeconds int `yaml:"delay_seconds"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// Load reads and parses the YAML configuration file. A missing or
// malformed file is fatal for the invocation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Output.ReportDir == "" {
		c.Output.ReportDir = "reports"
	}
	if c.Output.ReportPrefix == "" {
		c.Output.ReportPrefix = "aws_resource_report"
	}
	if c.Waiter.DelaySeconds <= 0 {
		c.Waiter.DelaySeconds = 30
	}
	if c.Waiter.MaxAttempts <= 0 {
		c.Waiter.MaxAttempts = 120
	}
}

// Solution returns the named solution's configuration
func (c *Config) Solution(name string) (Solution, error) {
	sol, ok := c.Solutions[name]
	if !ok {
		return Solution{}, fmt.Errorf("solution %q not found in configuration", name)
	}
	return sol, nil
}

// WaiterDelay returns the poll interval as a duration
func (c *Config) WaiterDelay() time.Duration {
	return time.Duration(c.Waiter.DelaySeconds) * time.Second
}

// DerivedParameters builds the CloudFormation parameters implied by the
// config file itself: the target region, the default resource tags, and the
// messaging destinations. Keys not declared by a template are dropped later
// during the parameter merge.
func (c *Config) DerivedParameters(region string) map[string]string {
	params := map[string]string{
		"AwsRegion": region,
	}
	if c.Tags.Organization != "" {
		params["OrganizationTag"] = c.Tags.Organization
	}
	if c.Tags.BusinessUnit != "" {
		params["BusinessUnitTag"] = c.Tags.BusinessUnit
	}
	if c.Tags.Environment != "" {
		params["EnvironmentTag"] = c.Tags.Environment
	}
	if c.Messaging.Email.Destination != "" {
		params["EmailDestination"] = c.Messaging.Email.Destination
	}
	if c.Messaging.SMS.Destination != "" {
		params["SmsDestination"] = c.Messaging.SMS.Destination
	}
	if c.Messaging.SMS.Country != "" {
		params["SmsCountry"] = c.Messaging.SMS.Country
	}
	if c.Messaging.SMS.OriginatorID != "" {
		params["SmsOriginatorId"] = c.Messaging.SMS.OriginatorID
	}
	return params
}

// DefaultTags returns the configured default tags as a map, matching the
// tag keys used on scanned instances
func (c *Config) DefaultTags() map[string]string {
	tags := make(map[string]string)
	if c.Tags.Organization != "" {
		tags["organization"] = c.Tags.Organization
	}
	if c.Tags.BusinessUnit != "" {
		tags["business_unit"] = c.Tags.BusinessUnit
	}
	if c.Tags.Environment != "" {
		tags["environment"] = c.Tags.Environment
	}
	return tags
}
