package resource

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-resources/logger"
	"github.com/saiset-co/sai-resources/types"
)

func echoFactory(body string) Factory {
	return func(*Context) (Resource, error) {
		return newEcho(body, time.Time{}), nil
	}
}

func writeMarker(t *testing.T, classpath, name string) {
	t.Helper()

	dir := filepath.Join(classpath, markerDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+markerSuffix), nil, 0o644))
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(logger.NewNop(), Locations{})

	require.NoError(t, r.Register("b", echoFactory("b")))
	require.NoError(t, r.Register("a", echoFactory("a"), Dynamic()))

	assert.ErrorIs(t, r.Register("a", echoFactory("again")), types.ErrResourceExists)
	assert.ErrorIs(t, r.Register("", echoFactory("x")), types.ErrResourceNameEmpty)
	assert.ErrorIs(t, r.Register("c", nil), types.ErrInvalidParameter)

	assert.True(t, r.IsRegistered("a"))
	assert.False(t, r.IsRegistered("c"))
	assert.Equal(t, []string{"a", "b"}, r.Names())
}

func TestRegistry_Allowance(t *testing.T) {
	classpath := t.TempDir()
	writeMarker(t, classpath, "org.example.Marked")

	r := NewRegistry(logger.NewNop(), Locations{ClasspathDirs: []string{classpath}})
	require.NoError(t, r.Register("org.example.Dynamic", echoFactory("d"), Dynamic()))
	require.NoError(t, r.Register("org.example.Marked", echoFactory("m")))
	require.NoError(t, r.Register("org.example.Allowed", echoFactory("a")))
	require.NoError(t, r.Register("org.example.Hidden", echoFactory("h")))
	r.MarkAllowed("org.example.Allowed", "")

	assert.True(t, r.IsAllowed("org.example.Dynamic"))
	assert.True(t, r.IsAllowed("org.example.Marked"))
	assert.True(t, r.IsAllowed("org.example.Allowed"))
	assert.False(t, r.IsAllowed("org.example.Hidden"))
	assert.False(t, r.IsAllowed("org.example.Unknown"))

	ctx := NewContext(nil, Environment{})

	res, err := r.Create(ctx, "org.example.Marked")
	require.NoError(t, err)
	assert.Equal(t, "org.example.Marked", res.ResourceName())

	_, err = r.Create(ctx, "org.example.Hidden")
	assert.ErrorIs(t, err, types.ErrResourceNotAllowed)

	_, err = r.Create(ctx, "org.example.Unknown")
	assert.ErrorIs(t, err, types.ErrResourceNotFound)
}

func TestRegistry_MarkerOutsideClasspathIsIgnored(t *testing.T) {
	classpath := t.TempDir()
	r := NewRegistry(logger.NewNop(), Locations{ClasspathDirs: []string{classpath}})
	require.NoError(t, r.Register("../escape", echoFactory("x")))

	writeMarker(t, filepath.Dir(classpath), "escape")
	assert.False(t, r.IsAllowed("../escape"))
}

func TestRegistry_FailingFactories(t *testing.T) {
	r := NewRegistry(logger.NewNop(), Locations{})
	require.NoError(t, r.Register("panics", func(*Context) (Resource, error) {
		panic("boom")
	}, Dynamic()))
	require.NoError(t, r.Register("fails", func(*Context) (Resource, error) {
		return nil, errors.New("no backend")
	}, Dynamic()))
	require.NoError(t, r.Register("empty", func(*Context) (Resource, error) {
		return nil, nil
	}, Dynamic()))

	ctx := NewContext(nil, Environment{})
	for _, name := range []string{"panics", "fails", "empty"} {
		_, err := r.Create(ctx, name)
		assert.ErrorIs(t, err, types.ErrResourceCreateFailed, name)
	}
}
