package topology

import (
	"fmt"
	"sort"
	"strings"
)

// Well-known environment keys carried by service descriptors
const (
	EnvPlatformTag      = "NEST_PLATFORM_TAG"
	EnvAppService       = "NEST_APP_SERVICE"
	EnvTag              = "NEST_TAG"
	EnvTagCap           = "NEST_TAG_CAP"
	EnvAppTag           = "NEST_APP_TAG"
	EnvContactID        = "NEST_CONTACT_ID"
	EnvContactEmail     = "NEST_CONTACT_EMAIL"
	EnvContactKey       = "NEST_CONTACT_KEY"
	EnvTreeKey          = "NEST_TREE_KEY"
	EnvServicesPassword = "NEST_SERVICES_PASSWORD"

	// Injected at runtime
	EnvFolderRoot      = "NEST_FOLDER_ROOT"
	EnvDockerMachineIP = "NEST_DOCKER_MACHINE_IP"
	EnvSSHPort         = "NEST_SSH_PORT"
	EnvHTTPPort        = "NEST_HTTP_PORT"
	EnvServiceViewPort = "NEST_SERVICE_VIEW_PORT"
)

// Role is the project role of a service, derived from NEST_PLATFORM_TAG
type Role string

const (
	RoleNone   Role = ""
	RoleApp    Role = "app"
	RoleWorker Role = "worker"
)

// Kind is the backing service kind, derived from NEST_APP_SERVICE
type Kind string

const (
	KindNone    Kind = ""
	KindBuild   Kind = "build"
	KindStorage Kind = "storage"
	KindBatch   Kind = "batch"

	// Legacy names still found in older devkits
	KindDB    Kind = "db"
	KindQueue Kind = "queue"
)

// RoleFromPlatformTag maps a platform tag onto a role
func RoleFromPlatformTag(tag string) Role {
	switch tag {
	case "mvc", "api":
		return RoleApp
	case "worker":
		return RoleWorker
	default:
		return RoleNone
	}
}

// KindFromAppService maps an app service value onto a kind
func KindFromAppService(value string) Kind {
	switch Kind(value) {
	case KindBuild, KindStorage, KindBatch, KindDB, KindQueue:
		return Kind(value)
	default:
		return KindNone
	}
}

// Environment holds the string-valued environment of a service
type Environment map[string]string

// Keys returns the environment keys in sorted order
func (e Environment) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ServiceDescriptor describes one container-backed service of the topology
type ServiceDescriptor struct {
	Key           string      `json:"key"`
	Role          Role        `json:"role,omitempty"`
	Kind          Kind        `json:"kind,omitempty"`
	ContainerName string      `json:"container_name"`
	Environment   Environment `json:"environment"`
}

// Get returns an environment value, or "" when unset
func (s *ServiceDescriptor) Get(key string) string {
	if s.Environment == nil {
		return ""
	}
	return s.Environment[key]
}

// Set writes an environment value
func (s *ServiceDescriptor) Set(key, value string) {
	if s.Environment == nil {
		s.Environment = make(Environment)
	}
	s.Environment[key] = value
}

// Tag returns NEST_TAG
func (s *ServiceDescriptor) Tag() string { return s.Get(EnvTag) }

// TagCap returns NEST_TAG_CAP
func (s *ServiceDescriptor) TagCap() string { return s.Get(EnvTagCap) }

// PlatformTag returns NEST_PLATFORM_TAG
func (s *ServiceDescriptor) PlatformTag() string { return s.Get(EnvPlatformTag) }

// FolderRoot returns NEST_FOLDER_ROOT
func (s *ServiceDescriptor) FolderRoot() string { return s.Get(EnvFolderRoot) }

// IsProject reports whether the service has a source project (app or worker)
func (s *ServiceDescriptor) IsProject() bool {
	return s.Role != RoleNone
}

// String returns a short description for logs
func (s *ServiceDescriptor) String() string {
	parts := []string{s.Key}
	if s.Role != RoleNone {
		parts = append(parts, "role="+string(s.Role))
	}
	if s.Kind != KindNone {
		parts = append(parts, "kind="+string(s.Kind))
	}
	return strings.Join(parts, " ")
}

// NestSettings is the classified topology. ByKey owns every descriptor; the
// app, worker and service views are derived from Names on demand.
type NestSettings struct {
	Names []string                      `json:"names"`
	ByKey map[string]*ServiceDescriptor `json:"byKey"`

	// Partial lists the services whose last pipeline failed. Settings with
	// failed services are only good for a reset.
	Partial []string `json:"partial,omitempty"`
}

// NewNestSettings returns empty settings
func NewNestSettings() *NestSettings {
	return &NestSettings{
		Names: make([]string, 0),
		ByKey: make(map[string]*ServiceDescriptor),
	}
}

// Add inserts or replaces a descriptor. Names keeps first-seen order.
func (n *NestSettings) Add(svc *ServiceDescriptor) {
	if _, exists := n.ByKey[svc.Key]; !exists {
		n.Names = append(n.Names, svc.Key)
	}
	n.ByKey[svc.Key] = svc
}

// Get returns a descriptor by key
func (n *NestSettings) Get(key string) (*ServiceDescriptor, bool) {
	svc, ok := n.ByKey[key]
	return svc, ok
}

// Ordered returns descriptors in discovery order
func (n *NestSettings) Ordered() []*ServiceDescriptor {
	out := make([]*ServiceDescriptor, 0, len(n.Names))
	for _, key := range n.Names {
		if svc, ok := n.ByKey[key]; ok {
			out = append(out, svc)
		}
	}
	return out
}

// App returns the app-role descriptor. With several, the last one wins.
func (n *NestSettings) App() *ServiceDescriptor {
	var app *ServiceDescriptor
	for _, svc := range n.Ordered() {
		if svc.Role == RoleApp {
			app = svc
		}
	}
	return app
}

// Workers returns worker-role descriptors in discovery order
func (n *NestSettings) Workers() []*ServiceDescriptor {
	workers := make([]*ServiceDescriptor, 0)
	for _, svc := range n.Ordered() {
		if svc.Role == RoleWorker {
			workers = append(workers, svc)
		}
	}
	return workers
}

// Service returns the descriptor of a kind. With several, the last one wins.
func (n *NestSettings) Service(kind Kind) *ServiceDescriptor {
	var found *ServiceDescriptor
	for _, svc := range n.Ordered() {
		if svc.Kind == kind && kind != KindNone {
			found = svc
		}
	}
	return found
}

// Services returns the kind view
func (n *NestSettings) Services() map[Kind]*ServiceDescriptor {
	services := make(map[Kind]*ServiceDescriptor)
	for _, svc := range n.Ordered() {
		if svc.Kind != KindNone {
			services[svc.Kind] = svc
		}
	}
	return services
}

// FindByTag returns the project descriptor with the given NEST_TAG
func (n *NestSettings) FindByTag(tag string) (*ServiceDescriptor, bool) {
	for _, svc := range n.Ordered() {
		if svc.Tag() != "" && svc.Tag() == tag {
			return svc, true
		}
	}
	return nil, false
}

// IsPartial reports whether the settings were saved after a failed batch
func (n *NestSettings) IsPartial() bool {
	return len(n.Partial) > 0
}

// MarkPartial records the failed services and drops their resolved ports so
// no stale binding is read back
func (n *NestSettings) MarkPartial(keys []string) {
	n.Partial = append([]string(nil), keys...)
	for _, key := range keys {
		svc, ok := n.ByKey[key]
		if !ok {
			continue
		}
		for _, env := range []string{EnvSSHPort, EnvHTTPPort, EnvServiceViewPort} {
			delete(svc.Environment, env)
		}
	}
}

// SetAll writes an environment value into every descriptor
func (n *NestSettings) SetAll(key, value string) {
	for _, svc := range n.ByKey {
		svc.Set(key, value)
	}
}

// Validate checks the arena is consistent
func (n *NestSettings) Validate() error {
	seen := make(map[string]bool, len(n.Names))
	for _, key := range n.Names {
		if seen[key] {
			return fmt.Errorf("duplicate service key: %s", key)
		}
		seen[key] = true
		if _, ok := n.ByKey[key]; !ok {
			return fmt.Errorf("service %s listed but not defined", key)
		}
	}
	if len(n.ByKey) != len(n.Names) {
		return fmt.Errorf("settings define %d services but list %d", len(n.ByKey), len(n.Names))
	}
	return nil
}
