package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"auto-transcriber/internal/domain"
)

// Verdict is the classifier decision for one candidate path.
type Verdict int

const (
	Accept Verdict = iota
	RejectTransient
	RejectPermanent
)

// String returns the verdict name for logs.
func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case RejectTransient:
		return "reject_transient"
	case RejectPermanent:
		return "reject_permanent"
	default:
		return "verdict(" + strconv.Itoa(int(v)) + ")"
	}
}

// Result carries the verdict plus the job created on Accept.
type Result struct {
	Verdict Verdict
	Reason  string
	// Kind is set when a transient rejection was demoted after the recheck budget.
	Kind domain.ErrorKind
	Job  domain.Job
}

// MediaExtensions lists the video and audio formats the pipeline accepts.
var MediaExtensions = []string{
	".mp4", ".mkv", ".avi", ".mov", ".webm",
	".flv", ".m4v", ".wmv", ".ts", ".mpg", ".mpeg",
	".mp3", ".wav", ".m4a", ".flac", ".aac",
	".ogg", ".opus", ".wma", ".aiff", ".aif",
}

var tempSuffixes = []string{".part", ".crdownload", ".download", ".tmp"}

// Processed reports whether a source path has already been handled.
type Processed interface {
	Contains(path string) bool
}

// ClassifierOptions configures a Classifier.
type ClassifierOptions struct {
	// OwnDirs are application directories whose files are never candidates.
	OwnDirs     []string
	Registry    Processed
	MaxRechecks int
}

// Classifier decides whether a stabilized path should become a job.
type Classifier struct {
	ownDirs     []string
	registry    Processed
	maxRechecks int
	extensions  map[string]struct{}
	stat        func(name string) (os.FileInfo, error)
	open        func(name string) (*os.File, error)

	mu       sync.Mutex
	lastSize map[string]int64
	rechecks map[string]int
	demoted  map[string]struct{}
	inFlight map[string]struct{}
}

// NewClassifier constructs a classifier over the real filesystem.
func NewClassifier(opts ClassifierOptions) *Classifier {
	ownDirs := lo.FilterMap(opts.OwnDirs, func(dir string, _ int) (string, bool) {
		if strings.TrimSpace(dir) == "" {
			return "", false
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", false
		}
		return filepath.Clean(abs), true
	})
	if opts.MaxRechecks <= 0 {
		opts.MaxRechecks = 5
	}

	return &Classifier{
		ownDirs:     lo.Uniq(ownDirs),
		registry:    opts.Registry,
		maxRechecks: opts.MaxRechecks,
		extensions:  lo.SliceToMap(MediaExtensions, func(ext string) (string, struct{}) { return ext, struct{}{} }),
		stat:        os.Stat,
		open:        os.Open,
		lastSize:    map[string]int64{},
		rechecks:    map[string]int{},
		demoted:     map[string]struct{}{},
		inFlight:    map[string]struct{}{},
	}
}

// Classify inspects path observed at ts. Accept marks the path in flight
// until Release is called.
func (c *Classifier) Classify(path string, ts time.Time) Result {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Result{Verdict: RejectPermanent, Reason: "invalid path"}
	}
	path = filepath.Clean(abs)

	if reason, ok := c.staticReject(path); ok {
		return Result{Verdict: RejectPermanent, Reason: reason}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.inFlight[path]; ok {
		return Result{Verdict: RejectPermanent, Reason: "already in flight"}
	}
	if _, ok := c.demoted[path]; ok {
		return Result{Verdict: RejectPermanent, Reason: "rechecks exhausted"}
	}

	info, err := c.stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.forgetLocked(path)
			return Result{Verdict: RejectPermanent, Reason: "file disappeared"}
		}
		return c.transientLocked(path, domain.ErrorKindUnreadableSource, "stat failed: "+err.Error())
	}
	if !info.Mode().IsRegular() {
		return Result{Verdict: RejectPermanent, Reason: "not a regular file"}
	}

	size := info.Size()
	prev, seen := c.lastSize[path]
	c.lastSize[path] = size
	if size == 0 {
		return c.transientLocked(path, domain.ErrorKindUnstableSource, "empty file")
	}
	if seen && prev != size {
		return c.transientLocked(path, domain.ErrorKindUnstableSource, fmt.Sprintf("size changed %d -> %d", prev, size))
	}

	f, err := c.open(path)
	if err != nil {
		return c.transientLocked(path, domain.ErrorKindUnreadableSource, "open failed: "+err.Error())
	}
	_ = f.Close()

	delete(c.lastSize, path)
	delete(c.rechecks, path)
	c.inFlight[path] = struct{}{}

	return Result{
		Verdict: Accept,
		Reason:  "stable",
		Job: domain.Job{
			ID:           JobID(path, ts),
			SourcePath:   path,
			SizeBytes:    size,
			DiscoveredAt: ts,
			Stage:        domain.StageDetected,
		},
	}
}

// Release clears the in-flight mark once the job is terminal.
func (c *Classifier) Release(path string) {
	if abs, err := filepath.Abs(path); err == nil {
		path = filepath.Clean(abs)
	}
	c.mu.Lock()
	delete(c.inFlight, path)
	c.mu.Unlock()
}

// Forget drops recheck state for a removed path.
func (c *Classifier) Forget(path string) {
	if abs, err := filepath.Abs(path); err == nil {
		path = filepath.Clean(abs)
	}
	c.mu.Lock()
	c.forgetLocked(path)
	c.mu.Unlock()
}

// InFlight reports whether path has an accepted job that is not yet released.
func (c *Classifier) InFlight(path string) bool {
	if abs, err := filepath.Abs(path); err == nil {
		path = filepath.Clean(abs)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[path]
	return ok
}

// IsMedia reports whether the extension is in the supported media set.
func (c *Classifier) IsMedia(path string) bool {
	_, ok := c.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

func (c *Classifier) staticReject(path string) (string, bool) {
	name := filepath.Base(path)
	lower := strings.ToLower(name)

	switch {
	case strings.HasPrefix(name, "."):
		return "hidden file", true
	case strings.HasPrefix(name, "~"):
		return "temporary file", true
	case lo.SomeBy(tempSuffixes, func(s string) bool { return strings.HasSuffix(lower, s) }):
		return "partial download", true
	case strings.HasPrefix(lower, "fail_"):
		return "failure marker", true
	case !c.IsMedia(path):
		return "unsupported extension", true
	}

	for _, dir := range c.ownDirs {
		if isWithin(path, dir) {
			return "inside application directory", true
		}
	}
	if c.registry != nil && c.registry.Contains(path) {
		return "already processed", true
	}
	return "", false
}

func (c *Classifier) transientLocked(path string, kind domain.ErrorKind, reason string) Result {
	c.rechecks[path]++
	if c.rechecks[path] > c.maxRechecks {
		c.demoted[path] = struct{}{}
		delete(c.lastSize, path)
		delete(c.rechecks, path)
		return Result{Verdict: RejectPermanent, Reason: "rechecks exhausted: " + reason, Kind: kind}
	}
	return Result{Verdict: RejectTransient, Reason: reason}
}

func (c *Classifier) forgetLocked(path string) {
	delete(c.lastSize, path)
	delete(c.rechecks, path)
	delete(c.demoted, path)
}

// JobID derives a stable identifier from path and discovery time, so a
// reused path never collides with an earlier job.
func JobID(path string, ts time.Time) string {
	name := path + "|" + strconv.FormatInt(ts.UnixNano(), 10)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
