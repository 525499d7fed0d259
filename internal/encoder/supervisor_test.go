package encoder

import (
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"
)

func requireTool(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func waitExit(t *testing.T, s *Supervisor, within time.Duration) ExitStatus {
	t.Helper()
	select {
	case status := <-s.Done():
		return status
	case <-time.After(within):
		t.Fatalf("timed out waiting for encoder exit")
		return ExitStatus{}
	}
}

func TestStartSpawnFailure(t *testing.T) {
	sup, err := Start(nil, WithBinary("/nonexistent/encoder-binary"))
	if err == nil {
		t.Fatalf("expected spawn failure")
	}
	if sup != nil {
		t.Fatalf("expected no supervisor on spawn failure")
	}
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected SpawnError, got %T: %v", err, err)
	}
}

func TestWriteCountsBytesAndStopsClean(t *testing.T) {
	requireTool(t, "cat")

	sup, err := Start(nil, WithBinary("cat"), WithStopGrace(2*time.Second))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	for _, size := range []int{1000, 2000, 1500} {
		if err := sup.Write(make([]byte, size)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	if got := sup.BytesWritten(); got != 4500 {
		t.Fatalf("expected 4500 bytes written, got %d", got)
	}

	sup.RequestStop()
	status := waitExit(t, sup, 5*time.Second)
	if status.Err != nil {
		t.Fatalf("expected clean exit, got %v", status.Err)
	}
	if status.Code != 0 {
		t.Fatalf("expected exit code 0, got %d", status.Code)
	}
	if status.BytesWritten != 4500 {
		t.Fatalf("expected exit status to carry byte count, got %d", status.BytesWritten)
	}
}

func TestAbnormalExitCarriesCode(t *testing.T) {
	requireTool(t, "sh")

	sup, err := Start([]string{"-c", "exit 7"}, WithBinary("sh"))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	status := waitExit(t, sup, 5*time.Second)
	if status.Code != 7 {
		t.Fatalf("expected exit code 7, got %d", status.Code)
	}
	var exitErr *ExitError
	if !errors.As(status.Err, &exitErr) {
		t.Fatalf("expected ExitError, got %T: %v", status.Err, status.Err)
	}
	if exitErr.Code != 7 {
		t.Fatalf("expected ExitError code 7, got %d", exitErr.Code)
	}
}

func TestExitNotificationDeliveredOnce(t *testing.T) {
	requireTool(t, "sh")

	sup, err := Start([]string{"-c", "exit 0"}, WithBinary("sh"))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitExit(t, sup, 5*time.Second)

	select {
	case extra := <-sup.Done():
		t.Fatalf("received second exit notification: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWriteAfterExitReturnsWriteError(t *testing.T) {
	requireTool(t, "sh")

	sup, err := Start([]string{"-c", "exit 0"}, WithBinary("sh"))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitExit(t, sup, 5*time.Second)

	err = sup.Write([]byte("late chunk"))
	if err == nil {
		t.Fatalf("expected write failure after exit")
	}
	var writeErr *WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("expected WriteError, got %T: %v", err, err)
	}
}

func TestRequestStopKillsAfterGrace(t *testing.T) {
	requireTool(t, "sleep")

	sup, err := Start([]string{"60"}, WithBinary("sleep"), WithStopGrace(100*time.Millisecond))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	started := time.Now()
	sup.RequestStop()
	sup.RequestStop()

	status := waitExit(t, sup, 5*time.Second)
	if status.Err == nil {
		t.Fatalf("expected abnormal exit after forced kill")
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Fatalf("forced kill took too long: %s", elapsed)
	}
}

func TestConcurrentWritesAreSerialized(t *testing.T) {
	requireTool(t, "cat")

	sup, err := Start(nil, WithBinary("cat"), WithStopGrace(2*time.Second))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	var wg sync.WaitGroup
	writers := 10
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			if err := sup.Write(make([]byte, 100)); err != nil {
				t.Errorf("write failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := sup.BytesWritten(); got != 1000 {
		t.Fatalf("expected 1000 bytes from concurrent writers, got %d", got)
	}

	sup.RequestStop()
	waitExit(t, sup, 5*time.Second)
}
