package proc

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProcFixture(t *testing.T, procDir string, pid int, environ []string) {
	t.Helper()
	dir := filepath.Join(procDir, strconv.Itoa(pid))
	require.NoError(t, os.MkdirAll(dir, 0o755))

	var buf []byte
	for _, kv := range environ {
		buf = append(buf, kv...)
		buf = append(buf, 0)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "environ"), buf, 0o644))
}

// TestOrphanDetector_FindOrphans tests marker scanning over a fixture tree
func TestOrphanDetector_FindOrphans(t *testing.T) {
	m := NewManager(WithLogger(testLogger()))
	defer m.Shutdown(context.Background())

	d := NewOrphanDetector(m)
	d.procDir = t.TempDir()

	writeProcFixture(t, d.procDir, 4242, []string{"PATH=/bin", EnvWorkerMarker + "=1", "HOME=/tmp"})
	writeProcFixture(t, d.procDir, 4243, []string{"PATH=/bin", "OTHER=1"})
	require.NoError(t, os.MkdirAll(filepath.Join(d.procDir, "not-a-pid"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(d.procDir, "5000"), 0o755)) // no environ file

	orphans, err := d.FindOrphans()
	require.NoError(t, err)
	assert.Equal(t, []int{4242}, orphans)
}

// TestOrphanDetector_IgnoresTracked tests that managed workers are excluded
func TestOrphanDetector_IgnoresTracked(t *testing.T) {
	m := NewManager(WithLogger(testLogger()))
	defer m.Shutdown(context.Background())

	h, err := m.Spawn(context.Background(), SpawnRequest{
		SessionID: "sess-1",
		NodeID:    "node-1",
		Spec:      sleeperSpec(),
	})
	require.NoError(t, err)

	d := NewOrphanDetector(m)
	d.procDir = t.TempDir()
	writeProcFixture(t, d.procDir, h.PID(), []string{EnvWorkerMarker + "=1"})

	orphans, err := d.FindOrphans()
	require.NoError(t, err)
	assert.Empty(t, orphans, "tracked workers are not orphans")
}

// TestOrphanDetector_TerminateOrphan tests the reclaim ladder on a real process
func TestOrphanDetector_TerminateOrphan(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "sleep 30")
	cmd.Env = append(os.Environ(), EnvWorkerMarker+"=1")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()

	m := NewManager(WithLogger(testLogger()))
	defer m.Shutdown(context.Background())
	d := NewOrphanDetector(m)

	require.NoError(t, d.terminateOrphan(pid))

	// Reap and confirm the signal death.
	err := cmd.Wait()
	require.Error(t, err)
	assert.Eventually(t, func() bool {
		return syscall.Kill(pid, 0) != nil
	}, 2*time.Second, 50*time.Millisecond, "process should be gone")
}

// TestLivenessMonitor_StopsOnCancel tests monitor shutdown
func TestLivenessMonitor_StopsOnCancel(t *testing.T) {
	m := NewManager(WithLogger(testLogger()))
	defer m.Shutdown(context.Background())

	lm := NewLivenessMonitor(m, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		lm.Run(ctx)
		close(stopped)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop on cancel")
	}
}
