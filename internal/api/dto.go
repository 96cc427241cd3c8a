package api

import (
	"github.com/samcharles93/kprof/internal/profiler"
)

type WorkloadInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Signature   string `json:"signature"`
	Problem     string `json:"problem"`
	Flops       int64  `json:"flops"`
	Bytes       int64  `json:"bytes"`
}

type WorkloadList struct {
	Object string         `json:"object"`
	Data   []WorkloadInfo `json:"data"`
}

type SignatureInfo struct {
	Key      string   `json:"key"`
	Families []string `json:"families"`
}

type SignatureList struct {
	Object string          `json:"object"`
	Data   []SignatureInfo `json:"data"`
}

type InstanceInfo struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	// Supported is the same check a profile pass uses to skip instances.
	Supported bool `json:"supported"`
}

type InstanceList struct {
	Object   string         `json:"object"`
	Workload string         `json:"workload"`
	Data     []InstanceInfo `json:"data"`
}

// ProfileRequest starts a profiling session. Zero Warmup and Repeat use
// the server defaults.
type ProfileRequest struct {
	Workload string `json:"workload"`
	Verify   bool   `json:"verify,omitempty"`
	Warmup   *int   `json:"warmup,omitempty"`
	Repeat   *int   `json:"repeat,omitempty"`
	Seed     uint64 `json:"seed,omitempty"`
	Only     string `json:"only,omitempty"`
}

type ProfileResponse struct {
	Object string `json:"object"`
	*profiler.Report
	Passed bool `json:"passed"`
}
