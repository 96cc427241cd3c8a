package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samcharles93/kprof/internal/workload"
)

const (
	envConfig       = "KPROF_CONFIG"
	envWorkloadsDir = "KPROF_WORKLOADS_DIR"
)

// discoverWorkloadFiles lists the .yaml and .yml files directly under dir,
// sorted by path.
func discoverWorkloadFiles(dir string) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("workloads directory is empty")
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("workloads path is not a directory: %s", dir)
	}

	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// loadWorkloads returns the presets plus every workload file under dir.
// A file whose name collides with a preset is an error.
func loadWorkloads(dir string) (*workload.Set, error) {
	set := workload.DefaultSet()
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return set, nil
	}
	files, err := discoverWorkloadFiles(dir)
	if err != nil {
		return nil, err
	}
	for _, path := range files {
		w, err := workload.LoadFile(path)
		if err != nil {
			return nil, err
		}
		if err := set.Add(w); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return set, nil
}

// resolveWorkload loads the workload set and picks ref from it.
func resolveWorkload(ref, dir string) (*workload.Workload, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("--workload is required (see `kprof workloads`)")
	}
	set, err := loadWorkloads(dir)
	if err != nil {
		return nil, err
	}
	return workload.Resolve(set, ref)
}
