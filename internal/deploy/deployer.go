package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/flatstone/awsmgr/internal/aws"
	"github.com/flatstone/awsmgr/internal/config"
	"github.com/flatstone/awsmgr/internal/logging"
)

// StackClient defines the stack lifecycle operations the deployer needs.
// Implemented by *aws.Client; mocked in tests.
type StackClient interface {
	Region() string
	StackExists(ctx context.Context, stackName string) (bool, error)
	Create(ctx context.Context, stackName, templateBody string, params []types.Parameter) error
	Update(ctx context.Context, stackName, templateBody string, params []types.Parameter) error
	WaitCreate(ctx context.Context, stackName string) error
	WaitUpdate(ctx context.Context, stackName string) error
	Outputs(ctx context.Context, stackName string) (map[string]string, error)
	Parameters(ctx context.Context, stackName string) (map[string]string, error)
	TemplateBody(ctx context.Context, stackName string) (string, error)
	FailureReasons(ctx context.Context, stackName string) ([]string, error)
}

// PreconditionError reports a user-facing precondition failure. Nothing has
// been mutated when one is returned.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return e.Reason
}

// Request describes one deploy or update invocation
type Request struct {
	Solution       string
	StackName      string
	Update         bool
	Overrides      map[string]string
	ExportTemplate bool
}

// Result reports what a deploy did
type Result struct {
	Operation string // "create", "update", or "none"
	Outputs   map[string]string
}

// Deployer drives CloudFormation stack deployment for configured solutions
type Deployer struct {
	client StackClient
	cfg    *config.Config
}

// NewDeployer creates a deployer for the given client and configuration
func NewDeployer(client StackClient, cfg *config.Config) *Deployer {
	return &Deployer{
		client: client,
		cfg:    cfg,
	}
}

// Deploy creates or updates the stack for a configured solution. The
// create-vs-update decision follows stack existence; --update against a
// missing stack is a precondition error and no creation is attempted.
func (d *Deployer) Deploy(ctx context.Context, req Request) (*Result, error) {
	sol, err := d.cfg.Solution(req.Solution)
	if err != nil {
		return nil, err
	}

	tpl, err := LoadTemplate(sol.TemplatePath)
	if err != nil {
		return nil, err
	}

	configParams := d.cfg.DerivedParameters(d.client.Region())
	for key, value := range sol.Parameters {
		configParams[key] = value
	}
	params := toParameterList(MergeParameters(tpl, configParams, req.Overrides))

	exists, err := d.client.StackExists(ctx, req.StackName)
	if err != nil {
		return nil, err
	}

	if req.Update && !exists {
		return nil, &PreconditionError{
			Reason: fmt.Sprintf("stack %q does not exist; cannot update a stack that has not been created", req.StackName),
		}
	}

	result := &Result{}
	if exists {
		result.Operation = "update"
		logging.WithField("stack", req.StackName).Infof("updating stack for solution %q", req.Solution)
		err = d.client.Update(ctx, req.StackName, tpl.Body, params)
		if errors.Is(err, aws.ErrNoChanges) {
			logging.WithField("stack", req.StackName).Info("no updates are to be performed")
			result.Operation = "none"
		} else if err != nil {
			return nil, err
		} else if err := d.waitFor(ctx, req.StackName, d.client.WaitUpdate); err != nil {
			return nil, err
		}
	} else {
		result.Operation = "create"
		logging.WithField("stack", req.StackName).Infof("creating stack for solution %q", req.Solution)
		if err := d.client.Create(ctx, req.StackName, tpl.Body, params); err != nil {
			return nil, err
		}
		if err := d.waitFor(ctx, req.StackName, d.client.WaitCreate); err != nil {
			return nil, err
		}
	}

	result.Outputs, err = d.client.Outputs(ctx, req.StackName)
	if err != nil {
		return nil, err
	}

	if req.ExportTemplate {
		if _, err := d.Export(ctx, req.Solution, req.StackName); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// waitFor blocks on the given waiter and, on a terminal failure, surfaces
// the stack's failure event reasons. No retry is attempted; the stack is
// left in whatever state the provider last reported.
func (d *Deployer) waitFor(ctx context.Context, stackName string, wait func(context.Context, string) error) error {
	err := wait(ctx, stackName)
	if err == nil {
		return nil
	}

	reasons, rerr := d.client.FailureReasons(ctx, stackName)
	if rerr != nil || len(reasons) == 0 {
		return err
	}
	return fmt.Errorf("%w (failure events: %s)", err, strings.Join(reasons, "; "))
}

// Export fetches the deployed template body and writes it to the solution's
// deployed directory, one file per invocation. Returns the written path.
func (d *Deployer) Export(ctx context.Context, solution, stackName string) (string, error) {
	sol, err := d.cfg.Solution(solution)
	if err != nil {
		return "", err
	}

	body, err := d.client.TemplateBody(ctx, stackName)
	if err != nil {
		return "", err
	}

	dir := sol.DeployedDir
	if dir == "" {
		dir = "deployed"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create deployed directory %q: %w", dir, err)
	}

	name := fmt.Sprintf("%s_%s_%s.yaml", solution, stackName, time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("failed to write deployed template %q: %w", path, err)
	}

	logging.WithField("stack", stackName).Infof("exported deployed template to %s", path)
	return path, nil
}

// UpdateStackParameters injects parameter values into an already-deployed
// stack, preserving every other parameter via UsePreviousValue and reusing
// the deployed template. Values the stack's template does not declare are
// dropped. The update is skipped entirely when every injected value already
// matches the stack's current value, so re-running a link step is free.
// Returns true when an update was actually issued.
func (d *Deployer) UpdateStackParameters(ctx context.Context, stackName string, values map[string]string) (bool, error) {
	current, err := d.client.Parameters(ctx, stackName)
	if err != nil {
		return false, err
	}

	body, err := d.client.TemplateBody(ctx, stackName)
	if err != nil {
		return false, err
	}
	tpl, err := ParseTemplate(body)
	if err != nil {
		return false, fmt.Errorf("failed to parse deployed template for stack %q: %w", stackName, err)
	}

	injected := make(map[string]string)
	for key, value := range values {
		if !tpl.Declared(key) {
			logging.WithField("stack", stackName).Warnf("dropping parameter %q not declared by the deployed template", key)
			continue
		}
		injected[key] = value
	}
	if len(injected) == 0 {
		return false, nil
	}

	changed := false
	for key, value := range injected {
		if current[key] != value {
			changed = true
			break
		}
	}
	if !changed {
		logging.WithField("stack", stackName).Info("parameters already up to date, skipping update")
		return false, nil
	}

	params := linkParameterList(tpl, current, injected)

	err = d.client.Update(ctx, stackName, "", params)
	if errors.Is(err, aws.ErrNoChanges) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := d.waitFor(ctx, stackName, d.client.WaitUpdate); err != nil {
		return true, err
	}
	return true, nil
}

// linkParameterList builds the update parameter list: injected keys carry
// their new value, every other declared key present on the stack keeps its
// previous value
func linkParameterList(tpl *Template, current, injected map[string]string) []types.Parameter {
	keys := make([]string, 0, len(tpl.Parameters))
	for key := range tpl.Parameters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var params []types.Parameter
	for _, key := range keys {
		if value, ok := injected[key]; ok {
			params = append(params, types.Parameter{
				ParameterKey:   awssdk.String(key),
				ParameterValue: awssdk.String(value),
			})
			continue
		}
		if _, ok := current[key]; ok {
			params = append(params, types.Parameter{
				ParameterKey:     awssdk.String(key),
				UsePreviousValue: awssdk.Bool(true),
			})
		}
	}
	return params
}
