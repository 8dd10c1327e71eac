package deploy

import (
	"sort"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
)

// MergeParameters resolves the parameter values to forward on a create or
// update call. Precedence, lowest to highest: template default, config-file
// parameters, command-line overrides. Only keys the template declares are
// forwarded; anything else is dropped so stale config entries never trigger
// a validation failure. Keys whose only value is the template default are
// omitted and left for the service to resolve.
func MergeParameters(tpl *Template, configParams, overrides map[string]string) map[string]string {
	merged := make(map[string]string)

	for key, value := range configParams {
		if tpl.Declared(key) {
			merged[key] = value
		}
	}
	for key, value := range overrides {
		if tpl.Declared(key) {
			merged[key] = value
		}
	}

	return merged
}

// toParameterList converts a parameter map to the SDK representation in a
// stable key order
func toParameterList(params map[string]string) []types.Parameter {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	list := make([]types.Parameter, 0, len(keys))
	for _, key := range keys {
		list = append(list, types.Parameter{
			ParameterKey:   awssdk.String(key),
			ParameterValue: awssdk.String(params[key]),
		})
	}
	return list
}
