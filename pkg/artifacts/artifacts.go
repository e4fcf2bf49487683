// Package artifacts reads the files a finished simulation run leaves behind:
// the best-solution summary, the search history, and the streamed run log.
package artifacts

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Well-known artifact names produced by the runner.
const (
	BestSolutionFile  = "best_solution.json"
	SearchHistoryFile = "search_history.csv"
	RunLogFile        = "experiment.log"
)

// HasResult reports whether dir contains a result artifact. A run that left
// either the best-solution summary or the search history behind is treated
// as having produced results regardless of its exit code.
func HasResult(dir string) bool {
	if dir == "" {
		return false
	}
	for _, name := range []string{BestSolutionFile, SearchHistoryFile} {
		if fi, err := os.Stat(filepath.Join(dir, name)); err == nil && !fi.IsDir() {
			return true
		}
	}
	return false
}

// BestSolution is the summary the runner writes when a search finishes.
type BestSolution struct {
	BestReward      float64        `json:"best_reward"`
	BestParameters  map[string]any `json:"best_parameters"`
	CollisionFound  bool           `json:"collision_found"`
	TotalIterations int            `json:"total_iterations"`
}

// ReadBestSolution parses the best-solution summary from dir.
func ReadBestSolution(dir string) (*BestSolution, error) {
	data, err := os.ReadFile(filepath.Join(dir, BestSolutionFile))
	if err != nil {
		return nil, err
	}
	var sol BestSolution
	if err := json.Unmarshal(data, &sol); err != nil {
		return nil, fmt.Errorf("parse %s: %w", BestSolutionFile, err)
	}
	return &sol, nil
}

// FileInfo describes one artifact file.
type FileInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	MimeType   string    `json:"mime_type"`
	ModifiedAt time.Time `json:"modified_at"`
}

// ListFiles walks dir recursively and returns its files sorted by relative
// path. Optional doublestar patterns filter by relative path; no patterns
// means everything.
func ListFiles(dir string, patterns ...string) ([]FileInfo, error) {
	var out []FileInfo
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if len(patterns) > 0 {
			matched := false
			for _, pat := range patterns {
				ok, err := doublestar.Match(pat, rel)
				if err != nil {
					return fmt.Errorf("bad pattern %q: %w", pat, err)
				}
				if ok {
					matched = true
					break
				}
			}
			if !matched {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, FileInfo{
			Name:       rel,
			Size:       info.Size(),
			MimeType:   mimeType(rel),
			ModifiedAt: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func mimeType(name string) string {
	if mt := mime.TypeByExtension(filepath.Ext(name)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

// TailFile returns the last n lines of a text file. Run logs are modest in
// size, so the whole file is read.
func TailFile(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
