package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"auto-transcriber/internal/domain"
)

type fakeProcessed map[string]bool

func (f fakeProcessed) Contains(path string) bool { return f[path] }

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// TestClassifyAcceptsStableMedia verifies a stable media file becomes a job.
func TestClassifyAcceptsStableMedia(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meeting.mp4")
	writeFile(t, path, 128)
	ts := time.Date(2026, 2, 13, 9, 0, 0, 0, time.UTC)

	c := NewClassifier(ClassifierOptions{})
	res := c.Classify(path, ts)
	if res.Verdict != Accept {
		t.Fatalf("verdict = %s (%s), want accept", res.Verdict, res.Reason)
	}
	if res.Job.Stage != domain.StageDetected || res.Job.SizeBytes != 128 {
		t.Fatalf("job = %+v", res.Job)
	}
	if res.Job.ID != JobID(path, ts) {
		t.Fatalf("job id = %q", res.Job.ID)
	}
	if !c.InFlight(path) {
		t.Fatal("accepted path should be in flight")
	}

	again := c.Classify(path, ts.Add(time.Second))
	if again.Verdict != RejectPermanent {
		t.Fatalf("second classify = %s, want reject while in flight", again.Verdict)
	}

	c.Release(path)
	if res := c.Classify(path, ts.Add(2*time.Second)); res.Verdict != Accept {
		t.Fatalf("after release = %s, want accept", res.Verdict)
	}
}

// TestClassifyPermanentRejections covers names, extensions, and own dirs.
func TestClassifyPermanentRejections(t *testing.T) {
	dir := t.TempDir()
	own := filepath.Join(dir, "archive")
	if err := os.MkdirAll(own, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	done := filepath.Join(dir, "done.mov")

	c := NewClassifier(ClassifierOptions{
		OwnDirs:  []string{own},
		Registry: fakeProcessed{done: true},
	})

	for _, name := range []string{
		"notes.txt",
		".hidden.mp4",
		"~lock.mp4",
		"video.mp4.part",
		"video.mp4.crdownload",
		"fail_2026_2_13_en_1.mp4",
		"archive/2026_2_13_en_1.mp4",
		"done.mov",
	} {
		path := filepath.Join(dir, name)
		writeFile(t, path, 10)
		if res := c.Classify(path, time.Now()); res.Verdict != RejectPermanent {
			t.Fatalf("%s: verdict = %s, want reject_permanent", name, res.Verdict)
		}
	}
}

// TestClassifyGrowingFileIsTransient verifies size changes and the recheck budget.
func TestClassifyGrowingFileIsTransient(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "copy.mkv")
	c := NewClassifier(ClassifierOptions{MaxRechecks: 2})

	writeFile(t, path, 0)
	if res := c.Classify(path, time.Now()); res.Verdict != RejectTransient {
		t.Fatalf("empty file = %s, want transient", res.Verdict)
	}
	writeFile(t, path, 10)
	if res := c.Classify(path, time.Now()); res.Verdict != RejectTransient {
		t.Fatalf("growing file = %s, want transient", res.Verdict)
	}
	writeFile(t, path, 20)
	res := c.Classify(path, time.Now())
	if res.Verdict != RejectPermanent || res.Kind != domain.ErrorKindUnstableSource {
		t.Fatalf("exhausted = %+v, want permanent unstable_source", res)
	}
	if res := c.Classify(path, time.Now()); res.Verdict != RejectPermanent {
		t.Fatalf("demoted path = %s, want permanent", res.Verdict)
	}

	c.Forget(path)
	if res := c.Classify(path, time.Now()); res.Verdict != Accept {
		t.Fatalf("after forget = %s (%s), want accept", res.Verdict, res.Reason)
	}
}

// TestClassifyMissingFile verifies vanished paths are rejected.
func TestClassifyMissingFile(t *testing.T) {
	c := NewClassifier(ClassifierOptions{})
	res := c.Classify(filepath.Join(t.TempDir(), "gone.mp3"), time.Now())
	if res.Verdict != RejectPermanent {
		t.Fatalf("verdict = %s, want reject_permanent", res.Verdict)
	}
}

// TestJobIDDistinctForReusedPath verifies ids differ across discoveries.
func TestJobIDDistinctForReusedPath(t *testing.T) {
	ts := time.Now()
	a := JobID("/watch/a.mp4", ts)
	b := JobID("/watch/a.mp4", ts.Add(time.Nanosecond))
	if a == b {
		t.Fatal("ids should differ for different discovery times")
	}
	if a != JobID("/watch/a.mp4", ts) {
		t.Fatal("ids should be deterministic")
	}
}
