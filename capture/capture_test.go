package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCollectRejectsInvalidPID(t *testing.T) {
	s := &Sampler{PID: 0, Interval: time.Millisecond, Count: 1}
	_, err := s.Collect(context.Background())
	assert.ErrorIs(t, err, ErrNoSuchProcess)

	s.PID = -4
	_, err = s.Collect(context.Background())
	assert.ErrorIs(t, err, ErrNoSuchProcess)
}

func TestResolveToolUnknownBinary(t *testing.T) {
	s := &Sampler{Tool: "definitely-not-a-jdk-tool"}
	_, err := s.resolveTool()
	assert.ErrorIs(t, err, ErrNoDumpTool)
}

func TestCommandArgs(t *testing.T) {
	assert.Equal(t, []string{"-l", "123"}, commandArgs("jstack", 123))
	assert.Equal(t, []string{"123", "Thread.print", "-l"}, commandArgs("jcmd", 123))
}
