// Package cleanup removes the derived artifacts of a workspace, keeping an
// audit log of every action.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/inkton/nester-develop/pkg/reporting"
)

// Coordinator deletes everything under a workspace root except kept entries.
// Deletion is best-effort: a failed entry does not stop the others.
type Coordinator struct {
	root     string
	keep     map[string]bool
	logger   *reporting.Logger
	auditLog []AuditEntry
	remove   func(path string) error
}

// AuditEntry represents a cleanup action
type AuditEntry struct {
	Timestamp time.Time
	Action    string
	Target    string
	Success   bool
	Error     error
	Details   string
}

// New creates a coordinator for root. keep lists entry names that survive.
func New(root string, keep []string, logger *reporting.Logger) *Coordinator {
	if logger == nil {
		logger = reporting.NopLogger()
	}

	kept := make(map[string]bool, len(keep))
	for _, name := range keep {
		if name != "" {
			kept[filepath.Base(name)] = true
		}
	}

	return &Coordinator{
		root:     root,
		keep:     kept,
		logger:   logger,
		auditLog: make([]AuditEntry, 0),
		remove:   os.RemoveAll,
	}
}

// CleanupAll deletes every entry of the root that is not kept. It returns an
// error joining every failed deletion.
func (c *Coordinator) CleanupAll(ctx context.Context, sink reporting.ProgressSink) error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		c.logAudit("list", c.root, "Failed to list workspace root", err)
		return fmt.Errorf("failed to list %s: %w", c.root, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !c.keep[entry.Name()] {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	if len(names) == 0 {
		sink.Step("", "Nothing to clean up")
		return nil
	}

	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			c.logAudit("delete", name, "Skipped, operation cancelled", err)
			errs = append(errs, err)
			break
		}

		path := filepath.Join(c.root, name)
		if err := c.remove(path); err != nil {
			c.logAudit("delete", path, "Failed to delete", err)
			sink.Fail("", fmt.Sprintf("Failed to delete %s: %v", path, err))
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", path, err))
			continue
		}

		c.logAudit("delete", path, "Deleted", nil)
		sink.Step("", "Deleted "+path)
	}

	summary := c.GetSummary()
	c.logger.Info("Cleanup complete", "succeeded", summary.Succeeded, "failed", summary.Failed)

	if len(errs) > 0 {
		return fmt.Errorf("cleanup completed with %d errors: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func (c *Coordinator) logAudit(action, target, details string, err error) {
	c.auditLog = append(c.auditLog, AuditEntry{
		Timestamp: time.Now(),
		Action:    action,
		Target:    target,
		Success:   err == nil,
		Error:     err,
		Details:   details,
	})
}

// GetAuditLog returns the complete audit log
func (c *Coordinator) GetAuditLog() []AuditEntry {
	return c.auditLog
}

// FormatAuditLog renders the audit log for the terminal
func (c *Coordinator) FormatAuditLog() string {
	if len(c.auditLog) == 0 {
		return "No cleanup actions logged\n"
	}

	var b strings.Builder
	b.WriteString("📋 Cleanup Audit Log:\n")
	for i, entry := range c.auditLog {
		status := "✅"
		if !entry.Success {
			status = "❌"
		}
		fmt.Fprintf(&b, "%d. [%s] %s %s %s\n", i+1, entry.Timestamp.Format("15:04:05"), status, entry.Action, entry.Target)
		if entry.Error != nil {
			fmt.Fprintf(&b, "   Error: %v\n", entry.Error)
		}
	}
	return b.String()
}

// GetSummary returns a summary of cleanup actions
func (c *Coordinator) GetSummary() CleanupSummary {
	summary := CleanupSummary{TotalActions: len(c.auditLog)}

	for _, entry := range c.auditLog {
		if entry.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
			summary.Failures = append(summary.Failures, entry.Target)
		}
	}

	return summary
}

// CleanupSummary contains summary statistics
type CleanupSummary struct {
	TotalActions int
	Succeeded    int
	Failed       int
	Failures     []string
}

// String returns a string representation of the summary
func (s CleanupSummary) String() string {
	return fmt.Sprintf("Cleanup Summary: %d total actions, %d succeeded, %d failed",
		s.TotalActions, s.Succeeded, s.Failed)
}
