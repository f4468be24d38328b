package stats

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRunWritesRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stat.csv")

	c := &Counters{}
	c.SessionsRegistered = 3

	done := make(chan struct{})
	go Run(path, 1, c, done)

	time.Sleep(1200 * time.Millisecond)
	close(done)
	time.Sleep(50 * time.Millisecond)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read stat file: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected at least one row written")
	}
}

func TestRunDisabledWithEmptyPath(t *testing.T) {
	done := make(chan struct{})
	close(done)
	// must return promptly without touching the filesystem
	Run("", 60, &Counters{}, done)
}
