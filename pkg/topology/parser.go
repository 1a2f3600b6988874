package topology

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrTopologyNotFound is returned when no topology document exists at the root
var ErrTopologyNotFound = errors.New("topology document not found")

// DocumentSuffix is the file suffix of topology documents
const DocumentSuffix = ".devkit"

var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// Parser parses topology documents
type Parser struct {
	// Variables for substitution
	Variables map[string]string
}

// New creates a new parser with optional variables
func New(variables map[string]string) *Parser {
	if variables == nil {
		variables = make(map[string]string)
	}
	return &Parser{
		Variables: variables,
	}
}

// FindDocument returns the first topology document in dir
func FindDocument(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w in %s: %v", ErrTopologyNotFound, dir, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), DocumentSuffix) {
			return filepath.Join(dir, entry.Name()), nil
		}
	}

	return "", fmt.Errorf("%w in %s", ErrTopologyNotFound, dir)
}

// ParseRoot locates the topology document in root and parses it. A .env file
// next to the document contributes substitution variables.
func (p *Parser) ParseRoot(root string) (*NestSettings, error) {
	path, err := FindDocument(root)
	if err != nil {
		return nil, err
	}

	if err := p.LoadDotEnv(filepath.Join(root, ".env")); err != nil {
		return nil, err
	}

	return p.ParseFile(path, root)
}

// LoadDotEnv merges variables from a dotenv file. Explicit variables win.
// A missing file is not an error.
func (p *Parser) LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	vars, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	for k, v := range vars {
		if _, exists := p.Variables[k]; !exists {
			p.Variables[k] = v
		}
	}
	return nil
}

// ParseFile parses a topology document from a file
func (p *Parser) ParseFile(path, root string) (*NestSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrTopologyNotFound, path)
		}
		return nil, fmt.Errorf("failed to read topology document: %w", err)
	}

	return p.Parse(data, root)
}

type document struct {
	Services yaml.Node `yaml:"services"`
}

type serviceEntry struct {
	ContainerName string      `yaml:"container_name"`
	Environment   Environment `yaml:"environment"`
}

// Parse classifies every service of a topology document. Services matching
// neither a platform tag nor an app service kind are left out. Classified
// services get NEST_FOLDER_ROOT set to root.
func (p *Parser) Parse(data []byte, root string) (*NestSettings, error) {
	substituted := p.substituteVariables(string(data))

	var doc document
	if err := yaml.Unmarshal([]byte(substituted), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if doc.Services.Kind == 0 {
		return nil, fmt.Errorf("topology document has no services")
	}
	if doc.Services.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("services must be a mapping (line %d)", doc.Services.Line)
	}

	settings := NewNestSettings()

	// Mapping content alternates key and value nodes in document order
	for i := 0; i+1 < len(doc.Services.Content); i += 2 {
		keyNode := doc.Services.Content[i]
		valueNode := doc.Services.Content[i+1]

		var entry serviceEntry
		if err := valueNode.Decode(&entry); err != nil {
			return nil, fmt.Errorf("service %s: %w", keyNode.Value, err)
		}

		svc := &ServiceDescriptor{
			Key:           keyNode.Value,
			ContainerName: entry.ContainerName,
			Environment:   entry.Environment,
		}
		if svc.Environment == nil {
			svc.Environment = make(Environment)
		}

		svc.Role = RoleFromPlatformTag(svc.PlatformTag())
		svc.Kind = KindFromAppService(svc.Get(EnvAppService))
		if svc.Role == RoleNone && svc.Kind == KindNone {
			continue
		}

		svc.Set(EnvFolderRoot, root)
		settings.Add(svc)
	}

	return settings, nil
}

// UnmarshalYAML accepts either a mapping or a compose-style KEY=VALUE list.
// Scalar values of any type are kept as their string form.
func (e *Environment) UnmarshalYAML(node *yaml.Node) error {
	env := make(Environment)

	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			k, v := node.Content[i], node.Content[i+1]
			if v.Kind != yaml.ScalarNode {
				return fmt.Errorf("environment %s: value must be a scalar (line %d)", k.Value, v.Line)
			}
			if v.Tag == "!!null" {
				env[k.Value] = ""
				continue
			}
			env[k.Value] = v.Value
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("environment entry must be a string (line %d)", item.Line)
			}
			parts := strings.SplitN(item.Value, "=", 2)
			if len(parts) == 2 {
				env[parts[0]] = parts[1]
			} else {
				env[parts[0]] = ""
			}
		}
	case yaml.ScalarNode:
		if node.Tag != "!!null" {
			return fmt.Errorf("environment must be a mapping or a list (line %d)", node.Line)
		}
	default:
		return fmt.Errorf("environment must be a mapping or a list (line %d)", node.Line)
	}

	*e = env
	return nil
}

// substituteVariables replaces ${VAR} and $VAR with values from parser variables and the environment
func (p *Parser) substituteVariables(content string) string {
	return variablePattern.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		if val, ok := p.Variables[varName]; ok {
			return val
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}

		// Unknown variables stay verbatim
		return match
	})
}
