package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunsRegisteredJobs(t *testing.T) {
	s := New()
	var runs atomic.Int32
	err := s.Register(JobSpec{
		Name:       "sweep",
		Interval:   10 * time.Millisecond,
		RunOnStart: true,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Stop(time.Second); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if runs.Load() < 3 {
		t.Fatalf("job ran %d times, want at least 3", runs.Load())
	}
}

func TestSchedulerTracksFailures(t *testing.T) {
	s := New()
	s.Register(JobSpec{
		Name:       "broken",
		Interval:   time.Hour,
		RunOnStart: true,
		Run: func(context.Context) error {
			return fmt.Errorf("sweep failed")
		},
	})
	s.Start(context.Background())
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if snap := s.Snapshot(); len(snap) == 1 && snap[0].Runs > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop(time.Second)

	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].LastError != "sweep failed" {
		t.Fatalf("failure not recorded: %+v", snap)
	}
}

func TestSchedulerRejectsDuplicatesAndLateRegister(t *testing.T) {
	s := New()
	job := JobSpec{Name: "sweep", Interval: time.Hour, Run: func(context.Context) error { return nil }}
	if err := s.Register(job); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := s.Register(job); err == nil {
		t.Fatal("duplicate register must fail")
	}
	s.Start(context.Background())
	defer s.Stop(time.Second)
	if err := s.Register(JobSpec{Name: "late", Interval: time.Hour, Run: func(context.Context) error { return nil }}); err != ErrStarted {
		t.Fatalf("expected ErrStarted, got %v", err)
	}
}
