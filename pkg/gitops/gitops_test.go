package gitops

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkton/nester-develop/pkg/topology"
)

// fakeGit writes a git stand-in that records its arguments to log and answers
// --version and branch listings
func fakeGit(t *testing.T, version string) (binary, log string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake git script needs a POSIX shell")
	}

	dir := t.TempDir()
	binary = filepath.Join(dir, "git")
	log = filepath.Join(dir, "calls.log")

	body := "#!/bin/sh\n" +
		"echo \"$@\" >> " + log + "\n" +
		"case \"$1\" in\n" +
		"  --version) echo '" + version + "' ;;\n" +
		"  branch) printf 'origin/HEAD\\norigin/api-master\\norigin/api-feature\\norigin/shared-master\\n' ;;\n" +
		"  remote) [ \"$3\" = broken ] && echo 'fatal: remote broken already exists.' >&2 && exit 3 ;;\n" +
		"esac\n" +
		"exit 0\n"
	require.NoError(t, os.WriteFile(binary, []byte(body), 0755))
	return binary, log
}

func TestParseVersion(t *testing.T) {
	cases := map[string]string{
		"git version 2.39.2":                 "2.39.2",
		"git version 2.39.2 (Apple Git-143)": "2.39.2",
		"git version 2.41.0.windows.1":       "2.41.0",
		"git version 2.10":                   "2.10.0",
		"git version 1.9.5.msysgit.0\n":      "1.9.5",
	}
	for out, want := range cases {
		v, err := ParseVersion(out)
		require.NoError(t, err, out)
		assert.Equal(t, want, v.String(), out)
	}

	_, err := ParseVersion("command not found")
	assert.Error(t, err)
}

func TestCheckVersion(t *testing.T) {
	ctx := context.Background()

	binary, _ := fakeGit(t, "git version 2.39.2")
	require.NoError(t, New(binary, nil).CheckVersion(ctx, "2.10.0"))

	binary, _ = fakeGit(t, "git version 2.9.5")
	err := New(binary, nil).CheckVersion(ctx, "2.10.0")
	assert.True(t, errors.Is(err, ErrGitTooOld))

	err = New(filepath.Join(t.TempDir(), "missing-git"), nil).CheckVersion(ctx, "2.10.0")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrGitTooOld))
}

func TestConfigureLocal(t *testing.T) {
	binary, log := fakeGit(t, "git version 2.39.2")

	require.NoError(t, New(binary, nil).ConfigureLocal(context.Background(), t.TempDir(), "/work/nest"))

	calls, err := os.ReadFile(log)
	require.NoError(t, err)
	assert.Contains(t, string(calls), "config --local core.sshCommand ssh -F '/work/nest/.ssh_config'")
	assert.Contains(t, string(calls), "config --local core.fileMode false")
}

func TestConfigureLocalQuotesRoot(t *testing.T) {
	binary, log := fakeGit(t, "git version 2.39.2")

	require.NoError(t, New(binary, nil).ConfigureLocal(context.Background(), t.TempDir(), "/home/Ana María/it's nest"))

	calls, err := os.ReadFile(log)
	require.NoError(t, err)
	assert.Contains(t, string(calls), `core.sshCommand ssh -F '/home/Ana María/it'\''s nest/.ssh_config'`)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'/work/nest'`, shellQuote("/work/nest"))
	assert.Equal(t, `'a b'`, shellQuote("a b"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

func TestRemoteBranches(t *testing.T) {
	binary, _ := fakeGit(t, "git version 2.39.2")

	branches, err := New(binary, nil).RemoteBranches(context.Background(), t.TempDir(), FolderBranchPrefix(" API "))
	require.NoError(t, err)
	assert.Equal(t, []string{"origin/api-master", "origin/api-feature"}, branches)
}

func TestPrepareFolder(t *testing.T) {
	binary, log := fakeGit(t, "git version 2.39.2")
	dir := filepath.Join(t.TempDir(), "source", "tools")

	err := New(binary, nil).PrepareFolder(context.Background(), dir, "/work/nest", "", Identity{Name: "c-42", Email: "dev@example.com"})
	require.NoError(t, err)
	assert.DirExists(t, dir)

	calls, err := os.ReadFile(log)
	require.NoError(t, err)
	assert.Contains(t, string(calls), "init")
	assert.Contains(t, string(calls), "config --local user.name c-42")
	assert.Contains(t, string(calls), "remote add origin nest:repository.git")
	assert.Contains(t, string(calls), "fetch --all")
}

func TestRunReportsStderr(t *testing.T) {
	binary, _ := fakeGit(t, "git version 2.39.2")

	err := New(binary, nil).AddRemote(context.Background(), t.TempDir(), "broken", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestSetupSSH(t *testing.T) {
	root := t.TempDir()
	app := &topology.ServiceDescriptor{Key: "app1", Environment: topology.Environment{
		topology.EnvAppTag:     "shop",
		topology.EnvContactID:  "c-42",
		topology.EnvTreeKey:    base64.StdEncoding.EncodeToString([]byte(`nest ssh-ed25519 AAAA\n`)),
		topology.EnvContactKey: base64.StdEncoding.EncodeToString([]byte("-----BEGIN KEY-----\\nabc\\n-----END KEY-----")),
	}}

	require.NoError(t, SetupSSH(root, app, ""))

	contact, err := os.ReadFile(filepath.Join(root, ContactKeyFile))
	require.NoError(t, err)
	assert.Equal(t, "-----BEGIN KEY-----\nabc\n-----END KEY-----", string(contact))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(filepath.Join(root, ContactKeyFile))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	config, err := os.ReadFile(SSHConfigPath(root))
	require.NoError(t, err)
	assert.Contains(t, string(config), "Host nest\n")
	assert.Contains(t, string(config), "    HostName shop.nestapp.yt\n")
	assert.Contains(t, string(config), "    User c-42\n")
	assert.Contains(t, string(config), "    IdentityFile "+filepath.ToSlash(filepath.Join(root, ContactKeyFile)))
}

func TestSetupSSHRejectsBadKeys(t *testing.T) {
	app := &topology.ServiceDescriptor{Key: "app1", Environment: topology.Environment{
		topology.EnvTreeKey: "not base64 !!",
	}}
	assert.Error(t, SetupSSH(t.TempDir(), app, ""))
	assert.Error(t, SetupSSH(t.TempDir(), nil, ""))
}
