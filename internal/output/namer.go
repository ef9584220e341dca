package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"auto-transcriber/internal/domain"
	"auto-transcriber/internal/fsutil"
)

// FailPrefix marks archived sources whose job failed.
const FailPrefix = "fail_"

// maxSaveAttempts bounds the retry loop when a name is taken concurrently.
const maxSaveAttempts = 100

var ErrNameExhausted = errors.New("could not allocate a free output name")

// Artifact is one transcript file written to the output directory.
type Artifact struct {
	Path     string          `json:"path"`
	Name     string          `json:"name"`
	Date     time.Time       `json:"date"`
	Language domain.Language `json:"language"`
	Seq      int             `json:"seq"`
}

// Namer allocates {year}_{month}_{day}_{lang}_{seq} names and writes
// artifacts without overwriting existing files.
type Namer struct {
	dir       string
	ext       string
	scanDirs  []string
	mu        sync.Mutex
	writeFile func(path string, data []byte, perm os.FileMode) error
}

// NewNamer writes into dir. Sequence numbers also account for files in
// extraDirs, so archived sources and transcripts share numbering.
func NewNamer(dir string, extraDirs ...string) *Namer {
	return &Namer{
		dir:       dir,
		ext:       ".md",
		scanDirs:  append([]string{dir}, extraDirs...),
		writeFile: fsutil.WriteFileAtomic,
	}
}

// BaseName formats the standard name without extension.
func BaseName(ts time.Time, lang domain.Language, seq int) string {
	return fmt.Sprintf("%d_%d_%d_%s_%d", ts.Year(), int(ts.Month()), ts.Day(), lang, seq)
}

// Prefix returns the name prefix shared by all artifacts of one day and language.
func Prefix(ts time.Time, lang domain.Language) string {
	return fmt.Sprintf("%d_%d_%d_%s_", ts.Year(), int(ts.Month()), ts.Day(), lang)
}

// NextSeq returns 1 + the highest sequence already used for ts and lang.
func (n *Namer) NextSeq(ts time.Time, lang domain.Language) (int, error) {
	prefix := Prefix(ts, lang)
	highest := 0
	for _, dir := range n.scanDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return 0, fmt.Errorf("scan %s: %w", dir, err)
		}
		for _, entry := range entries {
			if seq, ok := parseSeq(entry.Name(), prefix); ok && seq > highest {
				highest = seq
			}
		}
	}
	return highest + 1, nil
}

// Save writes content under the next free name for ts and lang.
func (n *Namer) Save(ts time.Time, lang domain.Language, content []byte) (Artifact, error) {
	return n.SaveWith(ts, lang, func(string) []byte { return content })
}

// SaveWith is Save for content that embeds its own name; render receives the
// allocated base name.
func (n *Namer) SaveWith(ts time.Time, lang domain.Language, render func(name string) []byte) (Artifact, error) {
	if lang == "" {
		lang = domain.LanguageUnknown
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := os.MkdirAll(n.dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create output dir: %w", err)
	}

	seq, err := n.NextSeq(ts, lang)
	if err != nil {
		return Artifact{}, err
	}

	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		name := BaseName(ts, lang, seq)
		path := filepath.Join(n.dir, name+n.ext)
		if fsutil.Exists(path) {
			seq++
			continue
		}
		if err := n.writeFile(path, render(name), 0o644); err != nil {
			return Artifact{}, fmt.Errorf("write %s: %w", path, err)
		}
		return Artifact{
			Path:     path,
			Name:     name,
			Date:     ts,
			Language: lang,
			Seq:      seq,
		}, nil
	}
	return Artifact{}, ErrNameExhausted
}

// parseSeq extracts the sequence from a file name with the given prefix,
// ignoring the failure marker and extension.
func parseSeq(fileName, prefix string) (int, bool) {
	stem := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	stem = strings.TrimPrefix(stem, FailPrefix)
	if !strings.HasPrefix(stem, prefix) {
		return 0, false
	}
	rest := stem[len(prefix):]
	// Collision suffixes ("_1") from archive moves belong to the same seq.
	if i := strings.IndexByte(rest, '_'); i >= 0 {
		rest = rest[:i]
	}
	seq, err := strconv.Atoi(rest)
	if err != nil || seq < 1 {
		return 0, false
	}
	return seq, true
}
