package deploy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TemplateParameter describes one parameter declared by a CloudFormation
// template
type TemplateParameter struct {
	Type       string
	Default    string
	HasDefault bool
}

// Template is a CloudFormation template body plus its declared parameters
// and resources
type Template struct {
	Body       string
	Parameters map[string]TemplateParameter
	Resources  map[string]string
}

// LoadTemplate reads a template file and extracts its declared parameters
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file %q: %w", path, err)
	}
	tpl, err := ParseTemplate(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template file %q: %w", path, err)
	}
	return tpl, nil
}

// ParseTemplate extracts the Parameters and Resources sections from a
// CloudFormation template body. The document is walked as raw YAML nodes
// because template bodies use short intrinsic tags (!Ref, !Sub, !GetAtt)
// that a typed decode would reject.
func ParseTemplate(body string) (*Template, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("invalid template YAML: %w", err)
	}

	tpl := &Template{
		Body:       body,
		Parameters: make(map[string]TemplateParameter),
		Resources:  make(map[string]string),
	}

	root := documentRoot(&doc)
	if root == nil || root.Kind != yaml.MappingNode {
		return tpl, nil
	}

	if paramsNode := mappingValue(root, "Parameters"); paramsNode != nil && paramsNode.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(paramsNode.Content); i += 2 {
			keyNode := paramsNode.Content[i]
			valNode := paramsNode.Content[i+1]
			if keyNode.Kind != yaml.ScalarNode || valNode.Kind != yaml.MappingNode {
				continue
			}

			param := TemplateParameter{}
			if typeNode := mappingValue(valNode, "Type"); typeNode != nil && typeNode.Kind == yaml.ScalarNode {
				param.Type = typeNode.Value
			}
			if defNode := mappingValue(valNode, "Default"); defNode != nil && defNode.Kind == yaml.ScalarNode {
				param.Default = defNode.Value
				param.HasDefault = true
			}
			tpl.Parameters[keyNode.Value] = param
		}
	}

	if resNode := mappingValue(root, "Resources"); resNode != nil && resNode.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(resNode.Content); i += 2 {
			keyNode := resNode.Content[i]
			valNode := resNode.Content[i+1]
			if keyNode.Kind != yaml.ScalarNode || valNode.Kind != yaml.MappingNode {
				continue
			}

			resType := ""
			if typeNode := mappingValue(valNode, "Type"); typeNode != nil && typeNode.Kind == yaml.ScalarNode {
				resType = typeNode.Value
			}
			tpl.Resources[keyNode.Value] = resType
		}
	}

	return tpl, nil
}

// Declared reports whether the template declares the given parameter key
func (t *Template) Declared(key string) bool {
	_, ok := t.Parameters[key]
	return ok
}

// HasResource reports whether the template declares a resource with the
// given logical ID
func (t *Template) HasResource(logicalID string) bool {
	_, ok := t.Resources[logicalID]
	return ok
}

// documentRoot unwraps the document node to the top-level mapping
func documentRoot(doc *yaml.Node) *yaml.Node {
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		return doc.Content[0]
	}
	return doc
}

// mappingValue returns the value node for the given key in a mapping node
func mappingValue(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Kind == yaml.ScalarNode && mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}
