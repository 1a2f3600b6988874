package settings

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkton/nester-develop/pkg/topology"
)

func sampleSettings(root string) *topology.NestSettings {
	s := topology.NewNestSettings()
	s.Add(&topology.ServiceDescriptor{
		Key:           "app1",
		Role:          topology.RoleApp,
		ContainerName: "c_app1",
		Environment: topology.Environment{
			topology.EnvPlatformTag: "api",
			topology.EnvTag:         "app1",
			topology.EnvHTTPPort:    "5000",
			topology.EnvFolderRoot:  root,
		},
	})
	s.Add(&topology.ServiceDescriptor{
		Key:           "storage-mariadb",
		Kind:          topology.KindStorage,
		ContainerName: "c_storage",
		Environment: topology.Environment{
			topology.EnvAppService:      "storage",
			topology.EnvServiceViewPort: "9080",
		},
	})
	s.Add(&topology.ServiceDescriptor{
		Key:           "mailer",
		Role:          topology.RoleWorker,
		ContainerName: "c_mailer",
		Environment:   topology.Environment{topology.EnvPlatformTag: "worker"},
	})
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)
	original := sampleSettings(root)

	require.NoError(t, store.Save(original))
	assert.True(t, store.Exists())

	loaded, err := store.Load()
	require.NoError(t, err)

	assert.Equal(t, original.Names, loaded.Names)
	require.Len(t, loaded.ByKey, len(original.ByKey))
	for key, svc := range original.ByKey {
		got := loaded.ByKey[key]
		require.NotNil(t, got, key)
		assert.Equal(t, svc.Environment, got.Environment, key)
		assert.Equal(t, svc.ContainerName, got.ContainerName, key)
	}

	// Derived views are recomputed from the arena
	assert.Equal(t, "app1", loaded.App().Key)
	assert.Same(t, loaded.ByKey["storage-mariadb"], loaded.Service(topology.KindStorage))
	require.Len(t, loaded.Workers(), 1)
	assert.Same(t, loaded.ByKey["mailer"], loaded.Workers()[0])
}

func TestStoreLoadIsIdempotent(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)
	require.NoError(t, store.Save(sampleSettings(root)))

	first, err := store.Load()
	require.NoError(t, err)
	second, err := store.Load()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestStoreLoadMissing(t *testing.T) {
	_, err := NewStore(t.TempDir(), nil).Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSettingsNotFound))
}

func TestStoreSaveFailure(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing", "dir"), nil)
	err := store.Save(sampleSettings("/work"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSaveSettingsFailed))
}

func TestDecodeIgnoresStaleDerivedIndexes(t *testing.T) {
	data := []byte(`{
  "names": ["a"],
  "byKey": {"a": {"key": "a", "role": "worker", "container_name": "c_a", "environment": {"NEST_PLATFORM_TAG": "worker"}}},
  "app": "ghost",
  "services": {"storage": "ghost"},
  "workers": []
}`)
	settings, err := Decode(data)
	require.NoError(t, err)
	assert.Nil(t, settings.App())
	assert.Nil(t, settings.Service(topology.KindStorage))
	require.Len(t, settings.Workers(), 1)
}

func TestDecodeRejectsDanglingName(t *testing.T) {
	_, err := Decode([]byte(`{"names": ["a"], "byKey": {}}`))
	assert.Error(t, err)
}

func TestProjectMarkerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, IsProject(dir))

	svc := sampleSettings(dir).ByKey["app1"]
	require.NoError(t, SaveProject(dir, svc))
	assert.True(t, IsProject(dir))

	loaded, err := LoadProject(dir)
	require.NoError(t, err)
	assert.Equal(t, svc.Key, loaded.Key)
	assert.Equal(t, svc.Environment, loaded.Environment)

	_, err = os.Stat(filepath.Join(dir, ProjectFileName))
	assert.NoError(t, err)
}

func TestStorePartialSettings(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)
	partial := sampleSettings(root)
	partial.MarkPartial([]string{"app1", "storage-mariadb"})

	require.NoError(t, store.Save(partial))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, loaded.IsPartial())
	assert.Equal(t, []string{"app1", "storage-mariadb"}, loaded.Partial)

	app, _ := loaded.Get("app1")
	assert.Empty(t, app.Get(topology.EnvHTTPPort))
	assert.Equal(t, root, app.FolderRoot())
	storage, _ := loaded.Get("storage-mariadb")
	assert.Empty(t, storage.Get(topology.EnvServiceViewPort))

	// Complete settings carry no marker
	require.NoError(t, store.Save(sampleSettings(root)))
	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"partial"`)
}
