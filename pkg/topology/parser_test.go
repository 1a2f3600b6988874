package topology

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDevkit = `
version: '3'
services:
  app1:
    container_name: c_app1
    environment:
      NEST_PLATFORM_TAG: api
      NEST_TAG: app1
      NEST_TAG_CAP: App1
      NEST_APP_TAG: ${APP_TAG}
  mailer:
    container_name: c_mailer
    environment:
      - NEST_PLATFORM_TAG=worker
      - NEST_TAG=mailer
      - NEST_TAG_CAP=Mailer
  storage-mariadb:
    container_name: c_storage
    environment:
      NEST_APP_SERVICE: storage
      MYSQL_PORT: 3306
      DEBUG: true
  proxy:
    container_name: c_proxy
    environment:
      SOMETHING: else
  build-jenkins:
    container_name: c_build
    environment:
      NEST_APP_SERVICE: build
`

func TestParseClassifiesServices(t *testing.T) {
	p := New(map[string]string{"APP_TAG": "acme"})
	settings, err := p.Parse([]byte(sampleDevkit), "/work")
	require.NoError(t, err)

	assert.Equal(t, []string{"app1", "mailer", "storage-mariadb", "build-jenkins"}, settings.Names)
	assert.NotContains(t, settings.ByKey, "proxy")

	app := settings.App()
	require.NotNil(t, app)
	assert.Equal(t, "app1", app.Key)
	assert.Equal(t, "acme", app.Get(EnvAppTag))

	workers := settings.Workers()
	require.Len(t, workers, 1)
	assert.Equal(t, "mailer", workers[0].Key)

	storage := settings.Service(KindStorage)
	require.NotNil(t, storage)
	assert.Equal(t, "c_storage", storage.ContainerName)
	assert.Equal(t, "3306", storage.Get("MYSQL_PORT"))
	assert.Equal(t, "true", storage.Get("DEBUG"))

	for _, key := range settings.Names {
		assert.Equal(t, "/work", settings.ByKey[key].FolderRoot(), key)
	}

	require.NoError(t, settings.Validate())
}

func TestParseUnknownKindIsExcluded(t *testing.T) {
	doc := `
services:
  cache:
    container_name: c_cache
    environment:
      NEST_APP_SERVICE: cache
  legacy-db:
    container_name: c_db
    environment:
      NEST_APP_SERVICE: db
`
	settings, err := New(nil).Parse([]byte(doc), "/work")
	require.NoError(t, err)

	assert.Equal(t, []string{"legacy-db"}, settings.Names)
	assert.Nil(t, settings.Service(Kind("cache")))
	assert.NotNil(t, settings.Service(KindDB))
}

func TestParseOverlappingClassification(t *testing.T) {
	doc := `
services:
  hybrid:
    container_name: c_hybrid
    environment:
      NEST_PLATFORM_TAG: worker
      NEST_APP_SERVICE: storage
`
	settings, err := New(nil).Parse([]byte(doc), "/work")
	require.NoError(t, err)

	// Listed once, visible in both views
	assert.Equal(t, []string{"hybrid"}, settings.Names)
	require.Len(t, settings.Workers(), 1)
	assert.Same(t, settings.Workers()[0], settings.Service(KindStorage))
}

func TestParseLastAppWins(t *testing.T) {
	doc := `
services:
  first:
    environment:
      NEST_PLATFORM_TAG: mvc
  second:
    environment:
      NEST_PLATFORM_TAG: api
`
	settings, err := New(nil).Parse([]byte(doc), "/work")
	require.NoError(t, err)
	assert.Equal(t, "second", settings.App().Key)
}

func TestParseRootMissingDocument(t *testing.T) {
	dir := t.TempDir()
	_, err := New(nil).ParseRoot(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTopologyNotFound))
}

func TestParseRootReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acme.devkit"), []byte(sampleDevkit), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("APP_TAG=fromdotenv\n"), 0644))

	settings, err := New(nil).ParseRoot(dir)
	require.NoError(t, err)
	assert.Equal(t, "fromdotenv", settings.App().Get(EnvAppTag))
	assert.Equal(t, dir, settings.App().FolderRoot())
}

func TestParseUnknownVariableKeptVerbatim(t *testing.T) {
	doc := `
services:
  app:
    environment:
      NEST_PLATFORM_TAG: mvc
      PASSWORD: ${NESTER_TEST_UNSET_VARIABLE}
`
	settings, err := New(nil).Parse([]byte(doc), "/work")
	require.NoError(t, err)
	assert.Equal(t, "${NESTER_TEST_UNSET_VARIABLE}", settings.App().Get("PASSWORD"))
}

func TestParseRejectsMissingServices(t *testing.T) {
	_, err := New(nil).Parse([]byte("version: '3'\n"), "/work")
	assert.Error(t, err)
}
