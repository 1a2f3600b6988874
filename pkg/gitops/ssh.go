package gitops

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/inkton/nester-develop/pkg/topology"
)

// Files written to the workspace root
const (
	TreeKeyFile    = ".tree_key"
	ContactKeyFile = ".contact_key"
	SSHConfigFile  = ".ssh_config"
)

// DefaultHostSuffix completes the app tag into the git host name
const DefaultHostSuffix = "nestapp.yt"

// SSHConfigPath returns <root>/.ssh_config
func SSHConfigPath(root string) string {
	return filepath.Join(root, SSHConfigFile)
}

// SetupSSH writes the key material of the app service and the ssh config
// that maps the "nest" host alias onto it
func SetupSSH(root string, app *topology.ServiceDescriptor, hostSuffix string) error {
	if app == nil {
		return fmt.Errorf("no app service to take the access keys from")
	}
	if hostSuffix == "" {
		hostSuffix = DefaultHostSuffix
	}

	treeKey, err := decodeKey(app.Get(topology.EnvTreeKey))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", topology.EnvTreeKey, err)
	}
	contactKey, err := decodeKey(app.Get(topology.EnvContactKey))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", topology.EnvContactKey, err)
	}

	treeKeyPath := filepath.Join(root, TreeKeyFile)
	if err := os.WriteFile(treeKeyPath, treeKey, 0644); err != nil {
		return fmt.Errorf("%s save failed: %w", TreeKeyFile, err)
	}

	contactKeyPath := filepath.Join(root, ContactKeyFile)
	if err := os.WriteFile(contactKeyPath, contactKey, 0600); err != nil {
		return fmt.Errorf("%s save failed: %w", ContactKeyFile, err)
	}
	if err := EnsureSSHPermissions(root); err != nil {
		return err
	}

	if err := os.WriteFile(SSHConfigPath(root), []byte(RenderSSHConfig(root, app, hostSuffix)), 0644); err != nil {
		return fmt.Errorf("failed to create %s: %w", SSHConfigPath(root), err)
	}

	return nil
}

// RenderSSHConfig returns the ssh config for the app service
func RenderSSHConfig(root string, app *topology.ServiceDescriptor, hostSuffix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Host nest\n")
	fmt.Fprintf(&b, "    HostName %s.%s\n", app.Get(topology.EnvAppTag), hostSuffix)
	fmt.Fprintf(&b, "    User %s\n", app.Get(topology.EnvContactID))
	fmt.Fprintf(&b, "    UserKnownHostsFile %s\n", filepath.ToSlash(filepath.Join(root, TreeKeyFile)))
	fmt.Fprintf(&b, "    IdentityFile %s\n", filepath.ToSlash(filepath.Join(root, ContactKeyFile)))
	return b.String()
}

// EnsureSSHPermissions restricts the contact key to its owner. ssh refuses
// keys readable by others.
func EnsureSSHPermissions(root string) error {
	err := os.Chmod(filepath.Join(root, ContactKeyFile), 0600)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to restrict %s: %w", ContactKeyFile, err)
	}
	return nil
}

// decodeKey decodes base64 key material. Escaped newlines are expanded.
func decodeKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("key is empty")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, err
	}
	return []byte(strings.ReplaceAll(string(raw), `\n`, "\n")), nil
}
