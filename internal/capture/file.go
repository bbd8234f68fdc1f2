package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// fileSource serves a still image or a directory of stills in a loop. Used
// for bench setups and demos where no live camera exists. Frames are loaded
// once on Open and replayed; the runtime paces them to the configured FPS.
type fileSource struct {
	path   string
	frames []*Frame
	idx    int
}

func newFileSource(cfg Config) *fileSource {
	return &fileSource{path: cfg.StreamPath}
}

func (s *fileSource) Open(ctx context.Context) error {
	info, err := os.Stat(s.path)
	if err != nil {
		return err
	}
	var paths []string
	if info.IsDir() {
		entries, err := os.ReadDir(s.path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".jpg", ".jpeg":
				paths = append(paths, filepath.Join(s.path, e.Name()))
			}
		}
		sort.Strings(paths)
	} else {
		paths = []string{s.path}
	}
	if len(paths) == 0 {
		return fmt.Errorf("no jpeg images under %s", s.path)
	}
	s.frames = s.frames[:0]
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		f, err := frameFromJPEG(data)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		s.frames = append(s.frames, f)
	}
	s.idx = 0
	return nil
}

func (s *fileSource) ReadFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.frames) == 0 {
		return nil, fmt.Errorf("source not open")
	}
	src := s.frames[s.idx%len(s.frames)]
	s.idx++
	// Fresh header, shared pixel data. Published frames are never mutated.
	return &Frame{
		Data:      src.Data,
		Width:     src.Width,
		Height:    src.Height,
		Timestamp: time.Now(),
	}, nil
}

func (s *fileSource) Close() error {
	return nil
}
