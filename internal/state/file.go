package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"ipwatch/internal/ipaddr"
	"ipwatch/internal/types"
	"ipwatch/internal/utils"
)

// FileStore keeps the pair in a text file: external address, newline,
// local address.
type FileStore struct {
	path   string
	logger *zap.Logger
}

// DefaultPath returns the saved file path inside cacheDir
func DefaultPath(cacheDir string) string {
	return filepath.Join(cacheDir, SavedFileName)
}

// NewFileStore creates a file store
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, logger: logger}
}

// Path returns the saved file path
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the saved pair
func (s *FileStore) Load(_ context.Context) (*types.SavedIPPair, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	return parsePair(string(data))
}

// Save replaces the saved pair
func (s *FileStore) Save(_ context.Context, pair types.SavedIPPair) error {
	if err := checkPair(pair); err != nil {
		return err
	}
	data := pair.External + "\n" + pair.Local + "\n"
	if err := utils.WriteFileAtomic(s.path, []byte(data), 0644); err != nil {
		return fmt.Errorf("failed to save address pair: %w", err)
	}
	s.logger.Debug("Saved address pair",
		zap.String("path", s.path),
		zap.String("external", pair.External),
		zap.String("local", pair.Local))
	return nil
}

// Close is a no-op
func (s *FileStore) Close() error {
	return nil
}

func parsePair(text string) (*types.SavedIPPair, error) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: expected two lines, got %d", ErrCorrupt, len(lines))
	}
	pair := &types.SavedIPPair{
		External: strings.TrimSpace(lines[0]),
		Local:    strings.TrimSpace(lines[1]),
	}
	if err := checkPair(*pair); err != nil {
		return nil, err
	}
	return pair, nil
}

func checkPair(pair types.SavedIPPair) error {
	if !ipaddr.IsAddress(pair.External) {
		return fmt.Errorf("%w: external address %q", ErrCorrupt, pair.External)
	}
	if !ipaddr.IsAddress(pair.Local) {
		return fmt.Errorf("%w: local address %q", ErrCorrupt, pair.Local)
	}
	return nil
}
