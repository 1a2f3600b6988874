package reporting

import (
	"time"
)

// RunReport records one top-level command run
type RunReport struct {
	// Run metadata
	RunID     string    `json:"run_id"`
	Operation string    `json:"operation"`
	Root      string    `json:"root"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  string    `json:"duration"`

	// Run result
	Status  RunStatus `json:"status"`
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`

	// Per-service pipeline outcomes
	Services []ServiceResult `json:"services,omitempty"`

	// Cleanup audit of scaffold-down
	Cleanup *CleanupInfo `json:"cleanup,omitempty"`

	// Errors encountered
	Errors []string `json:"errors,omitempty"`
}

// RunStatus represents the status of a run
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusStopped   RunStatus = "stopped"
)

// ServiceResult records the pipeline outcome of one service
type ServiceResult struct {
	Key           string `json:"key"`
	ContainerName string `json:"container_name"`
	Role          string `json:"role,omitempty"`
	Kind          string `json:"kind,omitempty"`
	Pipeline      string `json:"pipeline"`
	State         string `json:"state"`
	FailedStage   string `json:"failed_stage,omitempty"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
}

// CleanupInfo summarizes best-effort cleanup
type CleanupInfo struct {
	TotalActions int      `json:"total_actions"`
	Succeeded    int      `json:"succeeded"`
	Failed       int      `json:"failed"`
	Failures     []string `json:"failures,omitempty"`
}
