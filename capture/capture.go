// Package capture samples a running JVM's thread dumps by invoking the
// JDK's own dump tools at an interval. It hands the core a materialized
// list of dump texts; all parsing and analysis stays in the core.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
)

// Capture errors.
var (
	// ErrNoSuchProcess means the target PID does not exist.
	ErrNoSuchProcess = errors.New("no such process")

	// ErrNoDumpTool means neither jstack nor jcmd was found on PATH.
	ErrNoDumpTool = errors.New("no thread-dump tool found (tried jstack, jcmd)")
)

// Sampler collects thread dumps from one process at a fixed interval.
type Sampler struct {
	// PID is the target process id.
	PID int

	// Interval is the delay between samples.
	Interval time.Duration

	// Count is how many samples to take; must be >= 1.
	Count int

	// Tool forces "jstack" or "jcmd"; empty picks whichever is on PATH,
	// jstack first.
	Tool string
}

// Collect validates the target, then takes Count samples Interval apart
// and returns the raw dump texts in capture order. A failed individual
// sample is logged and skipped. Collect fails when the PID is invalid,
// gone or cannot be checked, when no tool is available, when every sample
// failed, or when ctx is cancelled between samples; on cancellation the
// dumps taken so far are returned together with ctx's error.
func (s *Sampler) Collect(ctx context.Context) ([][]byte, error) {
	if s.PID <= 0 {
		return nil, fmt.Errorf("invalid pid %d: %w", s.PID, ErrNoSuchProcess)
	}
	exists, err := process.PidExistsWithContext(ctx, int32(s.PID))
	if err != nil {
		return nil, fmt.Errorf("checking pid %d: %w", s.PID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pid %d: %w", s.PID, ErrNoSuchProcess)
	}

	tool, err := s.resolveTool()
	if err != nil {
		return nil, err
	}
	log.Debugf("sampling pid %d with %s, %d dumps %s apart", s.PID, tool, s.Count, s.Interval)

	count := s.Count
	if count < 1 {
		count = 1
	}

	var dumps [][]byte
	for i := 0; i < count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return dumps, ctx.Err()
			case <-time.After(s.Interval):
			}
		}
		out, err := exec.CommandContext(ctx, tool, commandArgs(tool, s.PID)...).Output()
		if err != nil {
			log.Warnf("dump %d/%d of pid %d failed: %v", i+1, count, s.PID, err)
			continue
		}
		dumps = append(dumps, out)
	}

	if len(dumps) == 0 {
		return nil, fmt.Errorf("all %d dump attempts of pid %d failed", count, s.PID)
	}
	return dumps, nil
}

// resolveTool picks the dump tool binary.
func (s *Sampler) resolveTool() (string, error) {
	if s.Tool != "" {
		if _, err := exec.LookPath(s.Tool); err != nil {
			return "", fmt.Errorf("%s: %w", s.Tool, ErrNoDumpTool)
		}
		return s.Tool, nil
	}
	for _, tool := range []string{"jstack", "jcmd"} {
		if _, err := exec.LookPath(tool); err == nil {
			return tool, nil
		}
	}
	return "", ErrNoDumpTool
}

// commandArgs builds the tool invocation for one dump. Both tools are
// asked for lock information (-l) so the parser sees ownable
// synchronizers too.
func commandArgs(tool string, pid int) []string {
	if tool == "jcmd" {
		return []string{strconv.Itoa(pid), "Thread.print", "-l"}
	}
	return []string{"-l", strconv.Itoa(pid)}
}
