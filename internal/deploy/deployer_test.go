package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flatstone/awsmgr/internal/aws"
	"github.com/flatstone/awsmgr/internal/config"
)

// mockStackClient implements StackClient for testing
type mockStackClient struct {
	region             string
	stackExistsFunc    func(ctx context.Context, stackName string) (bool, error)
	createFunc         func(ctx context.Context, stackName, templateBody string, params []types.Parameter) error
	updateFunc         func(ctx context.Context, stackName, templateBody string, params []types.Parameter) error
	waitCreateFunc     func(ctx context.Context, stackName string) error
	waitUpdateFunc     func(ctx context.Context, stackName string) error
	outputsFunc        func(ctx context.Context, stackName string) (map[string]string, error)
	parametersFunc     func(ctx context.Context, stackName string) (map[string]string, error)
	templateBodyFunc   func(ctx context.Context, stackName string) (string, error)
	failureReasonsFunc func(ctx context.Context, stackName string) ([]string, error)
}

func (m *mockStackClient) Region() string {
	if m.region == "" {
		return "us-east-1"
	}
	return m.region
}

func (m *mockStackClient) StackExists(ctx context.Context, stackName string) (bool, error) {
	if m.stackExistsFunc != nil {
		return m.stackExistsFunc(ctx, stackName)
	}
	return false, nil
}

func (m *mockStackClient) Create(ctx context.Context, stackName, templateBody string, params []types.Parameter) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, stackName, templateBody, params)
	}
	return nil
}

func (m *mockStackClient) Update(ctx context.Context, stackName, templateBody string, params []types.Parameter) error {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, stackName, templateBody, params)
	}
	return nil
}

func (m *mockStackClient) WaitCreate(ctx context.Context, stackName string) error {
	if m.waitCreateFunc != nil {
		return m.waitCreateFunc(ctx, stackName)
	}
	return nil
}

func (m *mockStackClient) WaitUpdate(ctx context.Context, stackName string) error {
	if m.waitUpdateFunc != nil {
		return m.waitUpdateFunc(ctx, stackName)
	}
	return nil
}

func (m *mockStackClient) Outputs(ctx context.Context, stackName string) (map[string]string, error) {
	if m.outputsFunc != nil {
		return m.outputsFunc(ctx, stackName)
	}
	return map[string]string{}, nil
}

func (m *mockStackClient) Parameters(ctx context.Context, stackName string) (map[string]string, error) {
	if m.parametersFunc != nil {
		return m.parametersFunc(ctx, stackName)
	}
	return map[string]string{}, nil
}

func (m *mockStackClient) TemplateBody(ctx context.Context, stackName string) (string, error) {
	if m.templateBodyFunc != nil {
		return m.templateBodyFunc(ctx, stackName)
	}
	return "", nil
}

func (m *mockStackClient) FailureReasons(ctx context.Context, stackName string) ([]string, error) {
	if m.failureReasonsFunc != nil {
		return m.failureReasonsFunc(ctx, stackName)
	}
	return nil, nil
}

const deployerTemplate = `
Parameters:
  BucketNamePrefix:
    Type: String
    Default: my-site
  AwsRegion:
    Type: String
  ApiEndpoint:
    Type: String
    Default: ''
Resources:
  WebsiteBucket:
    Type: AWS::S3::Bucket
`

func writeTemplate(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "static_website.yaml")
	require.NoError(t, os.WriteFile(path, []byte(deployerTemplate), 0o644))
	return path
}

func deployerConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Solutions: map[string]config.Solution{
			"static_website": {
				TemplatePath: writeTemplate(t),
				Parameters: map[string]string{
					"BucketNamePrefix": "flatstone-site",
				},
			},
		},
	}
}

func TestDeploy_CreatesMissingStack(t *testing.T) {
	var createdParams []types.Parameter
	createCalled := false
	mock := &mockStackClient{
		stackExistsFunc: func(ctx context.Context, stackName string) (bool, error) {
			return false, nil
		},
		createFunc: func(ctx context.Context, stackName, templateBody string, params []types.Parameter) error {
			createCalled = true
			assert.Equal(t, "demo", stackName)
			assert.Equal(t, deployerTemplate, templateBody)
			createdParams = params
			return nil
		},
		outputsFunc: func(ctx context.Context, stackName string) (map[string]string, error) {
			return map[string]string{"S3BucketName": "flatstone-site-content"}, nil
		},
	}

	d := NewDeployer(mock, deployerConfig(t))
	result, err := d.Deploy(context.Background(), Request{
		Solution:  "static_website",
		StackName: "demo",
	})

	require.NoError(t, err)
	assert.True(t, createCalled)
	assert.Equal(t, "create", result.Operation)
	assert.Equal(t, "flatstone-site-content", result.Outputs["S3BucketName"])

	values := make(map[string]string)
	for _, p := range createdParams {
		values[*p.ParameterKey] = *p.ParameterValue
	}
	assert.Equal(t, "flatstone-site", values["BucketNamePrefix"])
	assert.Equal(t, "us-east-1", values["AwsRegion"])
}

func TestDeploy_UpdatesExistingStack(t *testing.T) {
	updateCalled := false
	mock := &mockStackClient{
		stackExistsFunc: func(ctx context.Context, stackName string) (bool, error) {
			return true, nil
		},
		updateFunc: func(ctx context.Context, stackName, templateBody string, params []types.Parameter) error {
			updateCalled = true
			return nil
		},
	}

	d := NewDeployer(mock, deployerConfig(t))
	result, err := d.Deploy(context.Background(), Request{
		Solution:  "static_website",
		StackName: "demo",
		Update:    true,
	})

	require.NoError(t, err)
	assert.True(t, updateCalled)
	assert.Equal(t, "update", result.Operation)
}

func TestDeploy_UpdateMissingStack(t *testing.T) {
	createCalled := false
	mock := &mockStackClient{
		stackExistsFunc: func(ctx context.Context, stackName string) (bool, error) {
			return false, nil
		},
		createFunc: func(ctx context.Context, stackName, templateBody string, params []types.Parameter) error {
			createCalled = true
			return nil
		},
	}

	d := NewDeployer(mock, deployerConfig(t))
	_, err := d.Deploy(context.Background(), Request{
		Solution:  "static_website",
		StackName: "demo",
		Update:    true,
	})

	var precondition *PreconditionError
	require.ErrorAs(t, err, &precondition)
	assert.False(t, createCalled, "a failed precondition must not create the stack")
}

func TestDeploy_NoChanges(t *testing.T) {
	waitCalled := false
	mock := &mockStackClient{
		stackExistsFunc: func(ctx context.Context, stackName string) (bool, error) {
			return true, nil
		},
		updateFunc: func(ctx context.Context, stackName, templateBody string, params []types.Parameter) error {
			return aws.ErrNoChanges
		},
		waitUpdateFunc: func(ctx context.Context, stackName string) error {
			waitCalled = true
			return nil
		},
	}

	d := NewDeployer(mock, deployerConfig(t))
	result, err := d.Deploy(context.Background(), Request{
		Solution:  "static_website",
		StackName: "demo",
		Update:    true,
	})

	require.NoError(t, err)
	assert.Equal(t, "none", result.Operation)
	assert.False(t, waitCalled, "a no-op update must not wait on the stack")
}

func TestDeploy_UnknownSolution(t *testing.T) {
	d := NewDeployer(&mockStackClient{}, deployerConfig(t))
	_, err := d.Deploy(context.Background(), Request{
		Solution:  "data_warehouse",
		StackName: "demo",
	})
	assert.Error(t, err)
}

func TestDeploy_WaitFailureIncludesReasons(t *testing.T) {
	mock := &mockStackClient{
		stackExistsFunc: func(ctx context.Context, stackName string) (bool, error) {
			return false, nil
		},
		waitCreateFunc: func(ctx context.Context, stackName string) error {
			return errors.New("stack \"demo\" did not stabilize")
		},
		failureReasonsFunc: func(ctx context.Context, stackName string) ([]string, error) {
			return []string{"WebsiteBucket: bucket name already exists"}, nil
		},
	}

	d := NewDeployer(mock, deployerConfig(t))
	_, err := d.Deploy(context.Background(), Request{
		Solution:  "static_website",
		StackName: "demo",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket name already exists")
}

func TestExport_WritesDeployedTemplate(t *testing.T) {
	dir := t.TempDir()
	cfg := deployerConfig(t)
	sol := cfg.Solutions["static_website"]
	sol.DeployedDir = dir
	cfg.Solutions["static_website"] = sol

	mock := &mockStackClient{
		templateBodyFunc: func(ctx context.Context, stackName string) (string, error) {
			return deployerTemplate, nil
		},
	}

	d := NewDeployer(mock, cfg)
	path, err := d.Export(context.Background(), "static_website", "demo")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, deployerTemplate, string(data))
	assert.Contains(t, filepath.Base(path), "static_website_demo_")
}

func TestUpdateStackParameters(t *testing.T) {
	var updatedParams []types.Parameter
	updateCalled := false
	mock := &mockStackClient{
		parametersFunc: func(ctx context.Context, stackName string) (map[string]string, error) {
			return map[string]string{
				"BucketNamePrefix": "flatstone-site",
				"AwsRegion":        "us-east-1",
				"ApiEndpoint":      "",
			}, nil
		},
		templateBodyFunc: func(ctx context.Context, stackName string) (string, error) {
			return deployerTemplate, nil
		},
		updateFunc: func(ctx context.Context, stackName, templateBody string, params []types.Parameter) error {
			updateCalled = true
			assert.Empty(t, templateBody, "a link update must reuse the deployed template")
			updatedParams = params
			return nil
		},
	}

	d := NewDeployer(mock, deployerConfig(t))
	updated, err := d.UpdateStackParameters(context.Background(), "demo", map[string]string{
		"ApiEndpoint": "https://api.example.com/prod",
	})

	require.NoError(t, err)
	assert.True(t, updated)
	assert.True(t, updateCalled)

	require.Len(t, updatedParams, 3)
	byKey := make(map[string]types.Parameter)
	for _, p := range updatedParams {
		byKey[*p.ParameterKey] = p
	}
	assert.Equal(t, "https://api.example.com/prod", *byKey["ApiEndpoint"].ParameterValue)
	assert.True(t, *byKey["BucketNamePrefix"].UsePreviousValue)
	assert.True(t, *byKey["AwsRegion"].UsePreviousValue)
}

func TestUpdateStackParameters_SkipsWhenUnchanged(t *testing.T) {
	updateCalled := false
	mock := &mockStackClient{
		parametersFunc: func(ctx context.Context, stackName string) (map[string]string, error) {
			return map[string]string{
				"ApiEndpoint": "https://api.example.com/prod",
			}, nil
		},
		templateBodyFunc: func(ctx context.Context, stackName string) (string, error) {
			return deployerTemplate, nil
		},
		updateFunc: func(ctx context.Context, stackName, templateBody string, params []types.Parameter) error {
			updateCalled = true
			return nil
		},
	}

	d := NewDeployer(mock, deployerConfig(t))
	updated, err := d.UpdateStackParameters(context.Background(), "demo", map[string]string{
		"ApiEndpoint": "https://api.example.com/prod",
	})

	require.NoError(t, err)
	assert.False(t, updated)
	assert.False(t, updateCalled, "matching values must not trigger an update")
}

func TestUpdateStackParameters_DropsUndeclaredValues(t *testing.T) {
	updateCalled := false
	mock := &mockStackClient{
		templateBodyFunc: func(ctx context.Context, stackName string) (string, error) {
			return deployerTemplate, nil
		},
		updateFunc: func(ctx context.Context, stackName, templateBody string, params []types.Parameter) error {
			updateCalled = true
			return nil
		},
	}

	d := NewDeployer(mock, deployerConfig(t))
	updated, err := d.UpdateStackParameters(context.Background(), "demo", map[string]string{
		"StreamUrl": "https://media.example.com/stream",
	})

	require.NoError(t, err)
	assert.False(t, updated)
	assert.False(t, updateCalled, "nothing declared to inject means no update")
}
