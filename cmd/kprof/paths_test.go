package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/kprof/internal/workload"
)

const tinyGemmYAML = `description: tiny f32 gemm
kind: gemm
types:
  a: f32
  b: f32
  e: f32
layouts:
  a: Row
  b: Col
  e: Row
gemm:
  m: 32
  n: 32
  k: 16
`

func TestDiscoverWorkloadFilesSorted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "ignore.txt", "C.YAML"} {
		writeFile(t, filepath.Join(dir, name), tinyGemmYAML)
	}
	writeFile(t, filepath.Join(dir, "nested", "d.yaml"), tinyGemmYAML)

	got, err := discoverWorkloadFiles(dir)
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "C.YAML"),
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
	}, got)
}

func TestDiscoverWorkloadFilesErrors(t *testing.T) {
	_, err := discoverWorkloadFiles("  ")
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "w.yaml")
	writeFile(t, file, tinyGemmYAML)
	_, err = discoverWorkloadFiles(file)
	require.ErrorContains(t, err, "not a directory")

	_, err = discoverWorkloadFiles(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestLoadWorkloads(t *testing.T) {
	t.Run("presets only", func(t *testing.T) {
		set, err := loadWorkloads("")
		require.NoError(t, err)
		require.Equal(t, workload.DefaultSet().Names(), set.Names())
	})

	t.Run("files join the presets", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "tiny_gemm.yaml"), tinyGemmYAML)
		set, err := loadWorkloads(dir)
		require.NoError(t, err)
		w, err := set.Get("tiny_gemm")
		require.NoError(t, err)
		require.Equal(t, int64(2*32*32*16), w.Problem.Flops())
		_, err = set.Get("gemm_f16")
		require.NoError(t, err)
	})

	t.Run("preset name collision", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "gemm_f16.yaml"), tinyGemmYAML)
		_, err := loadWorkloads(dir)
		require.ErrorContains(t, err, "gemm_f16.yaml")
	})
}

func TestResolveWorkload(t *testing.T) {
	_, err := resolveWorkload("", "")
	require.ErrorContains(t, err, "--workload is required")

	w, err := resolveWorkload("conv2d_fwd_f16", "")
	require.NoError(t, err)
	require.Equal(t, "conv2d_fwd_f16", w.Name)

	path := filepath.Join(t.TempDir(), "adhoc.yaml")
	writeFile(t, path, tinyGemmYAML)
	w, err = resolveWorkload(path, "")
	require.NoError(t, err)
	require.Equal(t, "adhoc", w.Name)

	_, err = resolveWorkload("no_such_preset", "")
	require.ErrorIs(t, err, workload.ErrUnknown)
}
