package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/flatstone/awsmgr/internal/aws"
	"github.com/flatstone/awsmgr/internal/config"
	"github.com/flatstone/awsmgr/internal/deploy"
	"github.com/flatstone/awsmgr/internal/logging"
	"github.com/flatstone/awsmgr/internal/policy"
	"github.com/flatstone/awsmgr/internal/report"
	"github.com/flatstone/awsmgr/internal/scanner"
	"github.com/flatstone/awsmgr/internal/website"
)

var (
	configPath string
	region     string
	profile    string
	logLevel   string

	deploySolution     string
	stackName          string
	update             bool
	exportTemplate     bool
	staticWebsiteStack string
	streamingStack     string

	uploadResume       bool
	s3Bucket           string
	attachBucketPolicy bool
	distributionID     string

	// AssumeRole parameters
	assumeRole  string
	sessionName string
	duration    int32
	externalID  string
)

// streamingOutputKeys are the streaming media stack outputs injected into
// the static site's placeholders
var streamingOutputKeys = []string{"HlsEndpointUrl", "DashEndpointUrl", "MediaLiveInputUrl", "VodBucketName"}

func main() {
	var rootCmd = &cobra.Command{
		Use:   "awsmgr",
		Short: "Manage AWS solution stacks and cost reports",
		Long: `awsmgr deploys CloudFormation stacks for the configured solutions
(static website, messaging, streaming media), uploads static content to S3,
and generates spot instance cost reports for a region.`,
		RunE:          runCommand,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Flags().StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	rootCmd.Flags().StringVar(&region, "region", "", "AWS region (overrides config file)")
	rootCmd.Flags().StringVarP(&profile, "profile", "p", "default", "AWS profile name")
	rootCmd.Flags().StringVar(&logLevel, "log_level", "info", "Log level (debug, info, warn, error)")

	rootCmd.Flags().StringVar(&deploySolution, "deploy", "", "Deploy a CloudFormation template for the specified solution (static_website, messaging, streaming_media)")
	rootCmd.Flags().StringVar(&stackName, "stack_name", "", "CloudFormation stack name for deployment")
	rootCmd.Flags().BoolVar(&update, "update", false, "Update an existing CloudFormation stack with changes")
	rootCmd.Flags().BoolVar(&exportTemplate, "export_template", false, "Export the deployed CloudFormation template to the deployed directory")
	rootCmd.Flags().StringVar(&staticWebsiteStack, "static_website_stack", "", "Name of the static website stack (required when deploying dependent solutions)")
	rootCmd.Flags().StringVar(&streamingStack, "streaming_stack", "", "Name of an existing streaming media stack to link into the static website stack")

	rootCmd.Flags().BoolVar(&uploadResume, "upload_resume", false, "Upload static website content to S3 bucket")
	rootCmd.Flags().StringVar(&s3Bucket, "s3_bucket", "", "S3 bucket name for content upload (overrides config file)")
	rootCmd.Flags().BoolVar(&attachBucketPolicy, "attach_bucket_policy", false, "Attach bucket policy to allow CloudFront to access the S3 bucket")
	rootCmd.Flags().StringVar(&distributionID, "cloudfront_distribution_id", "", "CloudFront distribution ID for bucket policy (optional)")

	// AssumeRole flags
	rootCmd.Flags().StringVar(&assumeRole, "assume_role", "", "ARN of the IAM role to assume")
	rootCmd.Flags().StringVar(&sessionName, "session_name", "awsmgr-session", "Session name for the assumed role session")
	rootCmd.Flags().Int32Var(&duration, "duration", 3600, "Session duration in seconds (900-43200)")
	rootCmd.Flags().StringVar(&externalID, "external_id", "", "External ID for the assumed role (optional)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCommand(cmd *cobra.Command, args []string) error {
	// The stack operation continues provider-side if the wait is
	// interrupted; the next run reconciles.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := logging.SetLogLevel(logLevel); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	targetRegion := resolveRegion(region, cfg.Region)

	if err := validateDeployFlags(deploySolution, stackName, staticWebsiteStack); err != nil {
		return err
	}

	clients, err := createClients(ctx, cfg, targetRegion)
	if err != nil {
		return fmt.Errorf("failed to create AWS clients: %w", err)
	}

	if attachBucketPolicy {
		return runAttachPolicy(ctx, clients, cfg, targetRegion)
	}

	if deploySolution != "" {
		if err := runDeploy(ctx, clients, cfg, targetRegion); err != nil {
			return err
		}
		if !uploadResume {
			return nil
		}
	}

	if uploadResume {
		return runUpload(ctx, clients, cfg)
	}

	return runScan(ctx, clients, cfg, targetRegion)
}

// createClients builds the AWS service clients for the invocation
func createClients(ctx context.Context, cfg *config.Config, targetRegion string) (*aws.Clients, error) {
	auth, err := buildAuthConfig(targetRegion)
	if err != nil {
		return nil, err
	}

	wait := aws.WaitConfig{
		Delay:       cfg.WaiterDelay(),
		MaxAttempts: cfg.Waiter.MaxAttempts,
	}
	return aws.CreateClients(ctx, auth, wait)
}

// buildAuthConfig assembles the authentication settings from the credential
// flags
func buildAuthConfig(targetRegion string) (aws.AuthConfig, error) {
	auth := aws.AuthConfig{
		Profile: profile,
		Region:  targetRegion,
	}
	if assumeRole != "" {
		auth.AssumeRole = &aws.AssumeRoleCredentials{
			RoleARN:     assumeRole,
			SessionName: sessionName,
			Duration:    duration,
			ExternalID:  externalID,
		}
		if err := auth.AssumeRole.Validate(); err != nil {
			return aws.AuthConfig{}, fmt.Errorf("AssumeRole configuration invalid: %w", err)
		}
	}
	return auth, nil
}

// resolveRegion picks the region: flag over config file over default
func resolveRegion(flagRegion, configRegion string) string {
	if flagRegion != "" {
		return flagRegion
	}
	if configRegion != "" {
		return configRegion
	}
	return config.DefaultRegion
}

// resolveBucket picks the S3 bucket: flag over config file
func resolveBucket(flagBucket string, cfg *config.Config) (string, error) {
	if flagBucket != "" {
		return flagBucket, nil
	}
	if cfg.S3.Bucket != "" {
		return cfg.S3.Bucket, nil
	}
	return "", fmt.Errorf("no S3 bucket specified; provide --s3_bucket or set s3.bucket in the config file")
}

// validateDeployFlags checks the deploy flag combination before any AWS
// call is made
func validateDeployFlags(solution, stack, parentStack string) error {
	if solution == "" {
		return nil
	}
	switch solution {
	case "static_website", "messaging", "streaming_media":
	default:
		return fmt.Errorf("unknown solution %q; supported solutions: static_website, messaging, streaming_media", solution)
	}
	if stack == "" {
		return fmt.Errorf("stack name is required for deployment; provide --stack_name")
	}
	if (solution == "messaging" || solution == "streaming_media") && parentStack == "" {
		return fmt.Errorf("--static_website_stack is required when deploying the %s solution", solution)
	}
	return nil
}

// runAttachPolicy attaches a CloudFront-scoped read policy to the bucket
func runAttachPolicy(ctx context.Context, clients *aws.Clients, cfg *config.Config, targetRegion string) error {
	bucket, err := resolveBucket(s3Bucket, cfg)
	if err != nil {
		return err
	}

	attacher := policy.NewAttacher(clients.S3, clients.CloudFront, targetRegion)
	return attacher.Attach(ctx, bucket, distributionID)
}

// runDeploy deploys the requested solution and performs the follow-up
// steps: bucket policy attachment for the website, dependent-stack linking,
// and the website refresh
func runDeploy(ctx context.Context, clients *aws.Clients, cfg *config.Config, targetRegion string) error {
	deployer := deploy.NewDeployer(clients.CloudFormation, cfg)

	overrides := map[string]string{}
	if staticWebsiteStack != "" {
		overrides["StaticWebsiteStackName"] = staticWebsiteStack
	}
	if streamingStack != "" {
		overrides["StreamingMediaStackName"] = streamingStack
	}

	result, err := deployer.Deploy(ctx, deploy.Request{
		Solution:       deploySolution,
		StackName:      stackName,
		Update:         update,
		Overrides:      overrides,
		ExportTemplate: exportTemplate,
	})
	if err != nil {
		return err
	}

	if domain, ok := result.Outputs["CloudFrontDistributionDomainName"]; ok {
		fmt.Printf("\nCloudFront Distribution URL: https://%s\n", domain)
	}

	switch deploySolution {
	case "static_website":
		attachWebsitePolicy(ctx, clients, cfg, result.Outputs, targetRegion)
	case "messaging":
		linkParentStack(ctx, deployer, map[string]string{"MessagingStackName": stackName})
		refreshWebsite(ctx, clients, cfg, messagingInjectionValues(cfg, result.Outputs))
	case "streaming_media":
		linkParentStack(ctx, deployer, map[string]string{"StreamingMediaStackName": stackName})
		refreshWebsite(ctx, clients, cfg, streamingInjectionValues(result.Outputs))
	}

	return nil
}

// attachWebsitePolicy grants CloudFront read access to the website bucket
// when the deployed template does not provision the bucket policy itself.
// Failures are warnings; the stack is already in its final state.
func attachWebsitePolicy(ctx context.Context, clients *aws.Clients, cfg *config.Config, outputs map[string]string, targetRegion string) {
	sol, err := cfg.Solution("static_website")
	if err != nil {
		return
	}
	tpl, err := deploy.LoadTemplate(sol.TemplatePath)
	if err != nil {
		logging.Warnf("failed to load static website template: %v", err)
		return
	}
	if !websitePolicyNeeded(tpl, outputs) {
		return
	}

	logging.Info("template does not include a bucket policy, attaching it directly")
	attacher := policy.NewAttacher(clients.S3, clients.CloudFront, targetRegion)
	if id := outputs["CloudFrontDistributionId"]; id != "" {
		err = attacher.Attach(ctx, outputs["S3BucketName"], id)
	} else {
		err = attacher.AttachARN(ctx, outputs["S3BucketName"], "")
	}
	if err != nil {
		logging.Warnf("failed to attach bucket policy to %q: %v", outputs["S3BucketName"], err)
	}
}

// websitePolicyNeeded reports whether the deploy produced a website bucket
// whose policy is not managed by an S3BucketPolicy resource in the template
func websitePolicyNeeded(tpl *deploy.Template, outputs map[string]string) bool {
	return outputs["S3BucketName"] != "" && !tpl.HasResource("S3BucketPolicy")
}

// messagingInjectionValues builds the placeholder values wired into the
// site after a messaging deploy
func messagingInjectionValues(cfg *config.Config, outputs map[string]string) map[string]string {
	values := make(map[string]string)
	if endpoint, ok := outputs["ApiEndpoint"]; ok {
		values["ApiEndpoint"] = endpoint
		if cfg.Messaging.Email.Destination != "" {
			values["EmailAddress"] = cfg.Messaging.Email.Destination
		}
	}
	return values
}

// streamingInjectionValues builds the placeholder values wired into the
// site after a streaming media deploy
func streamingInjectionValues(outputs map[string]string) map[string]string {
	values := make(map[string]string)
	for _, key := range streamingOutputKeys {
		if v, ok := outputs[key]; ok {
			values[key] = v
		}
	}
	return values
}

// linkParentStack injects the dependent stack's name into the static
// website stack. Link failures are warnings; the deployed stack itself is
// already in its final state.
func linkParentStack(ctx context.Context, deployer *deploy.Deployer, values map[string]string) {
	if staticWebsiteStack == "" {
		return
	}
	updated, err := deployer.UpdateStackParameters(ctx, staticWebsiteStack, values)
	if err != nil {
		logging.Warnf("failed to update static website stack %q: %v", staticWebsiteStack, err)
		return
	}
	if updated {
		logging.Infof("updated static website stack %q", staticWebsiteStack)
	}
}

// refreshWebsite rewrites placeholder values in the static site and
// re-uploads the content when a bucket is configured
func refreshWebsite(ctx context.Context, clients *aws.Clients, cfg *config.Config, values map[string]string) {
	sol, err := cfg.Solution("static_website")
	if err != nil || sol.ContentDir == "" {
		return
	}

	if len(values) > 0 {
		if err := website.InjectPlaceholders(sol.ContentDir, values); err != nil {
			logging.Warnf("failed to update website content: %v", err)
		}
	}

	if cfg.S3.Bucket == "" {
		return
	}
	uploader := website.NewUploader(clients.S3, cfg.S3.Bucket)
	if _, err := uploader.UploadDir(ctx, sol.ContentDir); err != nil {
		logging.Warnf("failed to upload updated website content: %v", err)
	}
}

// runUpload uploads the static website content directory to S3
func runUpload(ctx context.Context, clients *aws.Clients, cfg *config.Config) error {
	bucket, err := resolveBucket(s3Bucket, cfg)
	if err != nil {
		return err
	}

	contentDir := "iac/static_website"
	if sol, err := cfg.Solution("static_website"); err == nil && sol.ContentDir != "" {
		contentDir = sol.ContentDir
	}

	uploader := website.NewUploader(clients.S3, bucket)
	count, err := uploader.UploadDir(ctx, contentDir)
	if err != nil {
		return err
	}
	fmt.Printf("Uploaded %d files to s3://%s/%s\n", count, bucket, website.KeyPrefix)
	return nil
}

// runScan generates the cost report for the region
func runScan(ctx context.Context, clients *aws.Clients, cfg *config.Config, targetRegion string) error {
	logging.Infof("scanning AWS infrastructure in region %s", targetRegion)

	s := scanner.NewScanner(clients.EC2, targetRegion, cfg.DefaultTags())
	rep, err := s.Scan(ctx)
	if err != nil {
		return err
	}

	path, err := report.Save(rep, cfg.Output.ReportDir, cfg.Output.ReportPrefix)
	if err != nil {
		return err
	}
	logging.Infof("report saved to %s", path)

	report.Render(rep, os.Stdout)
	return nil
}
