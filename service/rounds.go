package service

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vocdoni/vocdoni-qf/config"
	"github.com/vocdoni/vocdoni-qf/log"
)

// RoundSource defines the interface of the origins of new funding rounds,
// such as the round factory contract or a directory of round files.
type RoundSource interface {
	// MonitorRoundCreation returns a channel that receives every new round
	// until the context is cancelled.
	MonitorRoundCreation(ctx context.Context, interval time.Duration) (<-chan *config.Round, error)
}

// DirRoundSource is a RoundSource that reads the rounds from the JSON files
// of a directory. Every round file is sent once. A file that cannot be
// loaded is read again when its size or modification time changes.
type DirRoundSource struct {
	dir string
}

// fileStamp identifies a version of a round file.
type fileStamp struct {
	path    string
	size    int64
	modTime time.Time
	loaded  bool
}

// NewDirRoundSource creates a RoundSource for the *.json files of dir.
func NewDirRoundSource(dir string) *DirRoundSource {
	return &DirRoundSource{dir: dir}
}

// MonitorRoundCreation scans the directory every interval and sends the
// rounds of the new files. Files that do not hold a valid round are logged
// and skipped until they are modified.
func (d *DirRoundSource) MonitorRoundCreation(ctx context.Context, interval time.Duration) (<-chan *config.Round, error) {
	if _, err := os.Stat(d.dir); err != nil {
		return nil, err
	}
	ch := make(chan *config.Round)
	go func() {
		defer close(ch)
		seen := make(map[string]fileStamp)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			for _, stamp := range d.newFiles(seen) {
				r, err := config.LoadRound(stamp.path)
				if err != nil {
					seen[stamp.path] = stamp
					log.Warnw("invalid round file", "file", stamp.path, "error", err.Error())
					continue
				}
				stamp.loaded = true
				seen[stamp.path] = stamp
				select {
				case ch <- r:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return ch, nil
}

// newFiles returns, sorted by path, the round files of the directory that
// were not loaded yet and changed since the last attempt.
func (d *DirRoundSource) newFiles(seen map[string]fileStamp) []fileStamp {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		log.Warnw("cannot read rounds directory", "dir", d.dir, "error", err.Error())
		return nil
	}
	var files []fileStamp
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stamp := fileStamp{
			path:    filepath.Join(d.dir, e.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		}
		prev, ok := seen[stamp.path]
		if ok && (prev.loaded || (prev.size == stamp.size && prev.modTime.Equal(stamp.modTime))) {
			continue
		}
		files = append(files, stamp)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files
}
