package index

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// chunkLines is the window size; chunkOverlap lines repeat between
	// neighboring chunks so a match near a boundary keeps its context.
	chunkLines   = 80
	chunkOverlap = 10

	maxFileSize = 512 * 1024
)

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"target":       true,
	".idea":        true,
	".vscode":      true,
}

var indexableExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true,
	".jsx": true, ".rs": true, ".java": true, ".kt": true, ".rb": true,
	".c": true, ".h": true, ".cpp": true, ".hpp": true, ".cs": true,
	".md": true, ".yaml": true, ".yml": true, ".toml": true, ".json": true,
	".sql": true, ".sh": true, ".proto": true,
}

// ChunkRepo walks root and splits every indexable file into line-window
// chunks. Binary files, oversized files, and well-known dependency and
// build directories are skipped.
func ChunkRepo(root string) ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !indexableExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxFileSize {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		if bytes.IndexByte(content, 0) >= 0 {
			// NUL byte: treat as binary despite the extension.
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		docs = append(docs, ChunkFile(filepath.ToSlash(rel), string(content))...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// ChunkFile splits one file into overlapping line windows.
func ChunkFile(path, content string) []Document {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return nil
	}

	var docs []Document
	step := chunkLines - chunkOverlap
	for start := 0; start < len(lines); start += step {
		end := start + chunkLines
		if end > len(lines) {
			end = len(lines)
		}
		chunk := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
		if chunk != "" {
			docs = append(docs, Document{
				ID:        fmt.Sprintf("%s#%d", path, start+1),
				Path:      path,
				Content:   chunk,
				StartLine: start + 1,
				EndLine:   end,
			})
		}
		if end == len(lines) {
			break
		}
	}
	return docs
}
