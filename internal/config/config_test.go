package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"crochet/internal/cache"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad_YAMLWithDefaults(t *testing.T) {
	path := writeConfig(t, "crochet.yaml", `
cache_dir: cache
log:
  level: debug
worker:
  classpath: [lib/runner.jar]
  jvm_options: [-Xmx2G]
  properties:
    custom.prop: "1"
retention:
  locks_days: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	dir := filepath.Dir(path)

	require.Equal(t, filepath.Join(dir, "cache"), cfg.CacheDir)
	require.Equal(t, filepath.Join(dir, ".crochet", "work"), cfg.WorkDir)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "console", cfg.Log.Format)
	require.Equal(t, []string{filepath.Join(dir, "lib", "runner.jar")}, cfg.Worker.Classpath)
	require.Equal(t, cache.Retention{AssetsDays: 30, OutputsDays: 30, LocksDays: 0}, cfg.Retention.Retention())
	require.Equal(t, 10000, cfg.Worker.CloseGraceMS)
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "crochet.json", `{"work_dir": "/abs/work", "log": {"format": "json"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/abs/work", cfg.WorkDir)
	require.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]struct {
		name, content, want string
	}{
		"unknown yaml field": {"c.yaml", "cache_dr: x\n", "cache_dr"},
		"unknown json field": {"c.json", `{"nope": 1}`, "nope"},
		"trailing json":      {"c.json", `{} {}`, "multiple top-level values"},
		"two yaml documents": {"c.yaml", "log: {level: info}\n---\nlog: {level: warn}\n", "multiple documents"},
		"bad level":          {"c.yaml", "log: {level: loud}\n", "log.level"},
		"bad format":         {"c.yaml", "log: {format: xml}\n", "log.format"},
		"negative retention": {"c.yaml", "retention: {assets_days: -1}\n", "assets_days"},
		"unknown heavy":      {"c.yaml", "worker: {parallelism_groups: [a], heavy_groups: [b]}\n", "heavy_groups"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.name, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvCacheDir, "/env/cache")
	t.Setenv(EnvAssetsAfter, "7")
	t.Setenv(EnvOutputsAfter, "8")
	t.Setenv(EnvLocksAfter, "2")
	t.Setenv(EnvWorkerPropPfx+"dev.example.flag", "on")

	cfg, err := Load(writeConfig(t, "crochet.yaml", "cache_dir: file-cache\nlog: {level: debug}\n"))
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, "/env/cache", cfg.CacheDir)
	require.Equal(t, cache.Retention{AssetsDays: 7, OutputsDays: 8, LocksDays: 2}, cfg.Retention.Retention())
	require.Equal(t, "on", cfg.Worker.Properties["dev.example.flag"])

	t.Setenv(EnvLocksAfter, "soon")
	_, err = Load(writeConfig(t, "crochet.yaml", ""))
	require.ErrorContains(t, err, EnvLocksAfter)
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := writeConfig(t, "crochet.yaml", "")
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), ".env"), []byte(EnvOutputsAfter+"=3\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv(EnvOutputsAfter) })

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Retention.Retention().OutputsDays)
}

func TestLaunchSpec(t *testing.T) {
	cfg, err := Load(writeConfig(t, "crochet.yaml", `
log: {level: error}
worker:
  executable: /jdk/bin/java
  classpath: [/opt/runner.jar]
  args: [daemon]
  parallelism_groups: [jst+decompile, remapMods]
  heavy_groups: [jst+decompile]
  hide_stacktrace: true
  close_grace_ms: 250
  properties:
    stdout.encoding: UTF-16
`))
	require.NoError(t, err)
	spec := cfg.LaunchSpec()

	want := map[string]string{
		"stdout.encoding": "UTF-16",
		"stderr.encoding": "UTF-8",
	}
	want[PropLogLevel] = "error"
	want[PropParallelismGroups] = "jst+decompile,remapMods"
	want["dev.lukebemish.taskgraphrunner.jst+decompile.heavy"] = "true"
	want[PropHideStacktrace] = "true"
	if diff := cmp.Diff(want, spec.Properties); diff != "" {
		t.Fatalf("properties mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "/jdk/bin/java", spec.Executable)
	require.Equal(t, DefaultMainClass, spec.MainClass)
	require.Equal(t, []string{"daemon"}, spec.Args)
	require.Equal(t, 250*time.Millisecond, spec.CloseGrace)
}

func TestDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Default(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, ".crochet", "cache"), cfg.CacheDir)
	require.Equal(t, []string{DefaultParallelismGroup}, cfg.Worker.ParallelismGroups)
}
