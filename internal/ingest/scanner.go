package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
)

// Scanner reads documents from the local filesystem.
type Scanner struct {
	allowed map[string]struct{} // lowercased sans '.'
	logger  *slog.Logger
}

// NewScanner builds a scanner. An empty exts uses constants.AllowedExtensions.
func NewScanner(exts []string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := constants.AllowedExtensions
	if len(exts) > 0 {
		allowed = map[string]struct{}{}
		for _, e := range exts {
			if e = constants.NormalizeExt(e); e != "" {
				allowed[e] = struct{}{}
			}
		}
	}
	return &Scanner{allowed: allowed, logger: logger}
}

func (s *Scanner) Allowed(ext string) bool {
	_, ok := s.allowed[constants.NormalizeExt(ext)]
	return ok
}

// ScanPath hashes a single file.
func (s *Scanner) ScanPath(path string) (Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Document{}, err
	}
	ext := constants.NormalizeExt(filepath.Ext(abs))
	if ext == "" || !s.Allowed(ext) {
		return Document{}, common.NewAppError(common.KindSubmission, "ingest.scan", fmt.Sprintf("unsupported or missing extension %q", ext), common.ErrInvalidInput)
	}

	f, err := os.Open(abs)
	if err != nil {
		return Document{}, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("ingest.close_failed", "path", abs, "error", err)
		}
	}()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return Document{}, fmt.Errorf("hash %s: %w", abs, err)
	}
	return Document{
		Path:     abs,
		Filename: filepath.Base(abs),
		Ext:      ext,
		Size:     n,
		HashHex:  hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// ScanDirectory walks root, skips hidden entries if requested, and hashes every
// allowed file. Files whose content was already seen are marked Duplicate.
func (s *Scanner) ScanDirectory(ctx context.Context, root string, skipHidden bool) ([]Document, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var docs []Document
	var stats DirStats
	seen := map[string]struct{}{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			docs = append(docs, Document{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !s.Allowed(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		doc, err := s.ScanPath(path)
		if err != nil {
			docs = append(docs, Document{Path: path, Err: err.Error()})
			stats.Failed++
			return nil
		}
		if _, dup := seen[doc.HashHex]; dup {
			doc.Duplicate = true
			stats.Deduplicated++
		}
		seen[doc.HashHex] = struct{}{}
		docs = append(docs, doc)
		stats.Succeeded++
		return nil
	})
	if err != nil {
		return docs, stats, fmt.Errorf("walk: %w", err)
	}
	s.logger.Info("ingest.scan.done",
		"root", root,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"deduplicated", stats.Deduplicated,
		"failed", stats.Failed,
	)
	return docs, stats, nil
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
