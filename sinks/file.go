package sinks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiresql/stream"
)

// FilePublisher appends every record published to a destination to
// "<dir>/<destination>.log", one `key<TAB>value` line per record. A
// tombstone leaves the value empty.
type FilePublisher struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File
}

var _ stream.Publisher = (*FilePublisher)(nil)

// NewFilePublisher writes under dir, creating it if needed.
func NewFilePublisher(dir string) (*FilePublisher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Err(err).Str("directory", dir).Msg("failed to create the output directory")
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FilePublisher{dir: dir, files: make(map[string]*os.File)}, nil
}

func (f *FilePublisher) file(destination string) (*os.File, error) {
	if file, ok := f.files[destination]; ok {
		return file, nil
	}
	if destination == "" || strings.ContainsAny(destination, `/\`) {
		return nil, fmt.Errorf("invalid destination %q", destination)
	}
	path := filepath.Join(f.dir, destination+".log")
	if _, err := os.Stat(path); err == nil {
		log.Warn().Str("file_path", path).Msg("file already exists; appending to it")
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Err(err).Str("file_path", path).Msg("failed to open file")
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	f.files[destination] = file
	return file, nil
}

// Publish appends one line. The file is opened on first use.
func (f *FilePublisher) Publish(_ context.Context, destination, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := f.file(destination)
	if err != nil {
		return err
	}
	line := make([]byte, 0, len(key)+len(value)+2)
	line = append(line, key...)
	line = append(line, '\t')
	line = append(line, value...)
	line = append(line, '\n')
	if _, err := file.Write(line); err != nil {
		log.Err(err).Str("destination", destination).Msg("failed to write to file")
		return err
	}
	return nil
}

// Close closes every open file.
func (f *FilePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for name, file := range f.files {
		if err := file.Close(); err != nil && firstErr == nil {
			log.Err(err).Str("destination", name).Msg("failed to close file")
			firstErr = err
		}
	}
	f.files = make(map[string]*os.File)
	return firstErr
}
