package cli

import (
	"bytes"
	"context"
	"encoding/base64"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/glimpse/internal/config"
	"github.com/aretw0/glimpse/internal/logging"
	"github.com/aretw0/glimpse/pkg/domain"
	"github.com/aretw0/glimpse/pkg/negotiate"
)

func TestNewProbe(t *testing.T) {
	assert.Equal(t, negotiate.Static(true), NewProbe(config.ProbeOn))
	assert.Equal(t, negotiate.Static(false), NewProbe(config.ProbeOff))
	assert.NotNil(t, NewProbe(config.ProbeDecode))
}

func TestBuildStack_Memory(t *testing.T) {
	cfg := config.Default()
	cfg.HostOrigin = "example.com"
	cfg.Probe = config.ProbeOn

	stack, err := BuildStack(context.Background(), cfg, logging.NewNop(), domain.LifecycleHooks{})
	require.NoError(t, err)
	defer stack.Close(context.Background())

	require.NotNil(t, stack.Registry)
	url, format := stack.Pipeline.Compose(domain.NewImageRequest("/img/a.jpg"))
	assert.Equal(t, "/img/a.jpg?f=nextgen", url)
	assert.Equal(t, domain.FormatNextGen, format)
	assert.Same(t, stack.Sessions, stack.Pipeline.Sessions())
}

func TestBuildStack_RedisSealed(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.Metrics = false
	cfg.HostOrigin = "example.com"
	cfg.Redis.Addr = mr.Addr()
	cfg.Store.Redact = []string{"token"}
	cfg.Store.EncryptionKey = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{4}, 32))

	ctx := context.Background()
	stack, err := BuildStack(ctx, cfg, logging.NewNop(), domain.LifecycleHooks{})
	require.NoError(t, err)
	defer stack.Close(ctx)
	assert.Nil(t, stack.Registry)

	req := domain.NewImageRequest("/img/a.jpg?token=secret")
	img, err := stack.Pipeline.Mount(ctx, req, "hero", domain.Callbacks{})
	require.NoError(t, err)

	raw, err := mr.Get(cfg.Redis.Prefix + img.ID())
	require.NoError(t, err)
	assert.NotContains(t, raw, "secret")
	assert.True(t, strings.Contains(raw, `"sealed"`))

	snap, err := stack.Sessions.Store().Load(ctx, img.ID())
	require.NoError(t, err)
	assert.Equal(t, "/img/a.jpg?token=***", snap.Request.SourceURL)
}

func TestBuildStack_RedisUnavailable(t *testing.T) {
	cfg := config.Default()
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := BuildStack(context.Background(), cfg, logging.NewNop(), domain.LifecycleHooks{})
	assert.ErrorContains(t, err, "failed to connect to redis")
}

func TestBuildStack_FileStore(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics = false
	cfg.Store.Dir = t.TempDir()

	ctx := context.Background()
	stack, err := BuildStack(ctx, cfg, logging.NewNop(), domain.LifecycleHooks{})
	require.NoError(t, err)
	defer stack.Close(ctx)

	img, err := stack.Pipeline.Mount(ctx, domain.NewImageRequest("/img/a.jpg"), "hero", domain.Callbacks{})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(cfg.Store.Dir, img.ID()+".json"))
}
