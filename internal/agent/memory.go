// Package agent contains the core agent loop and its supporting components.
package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MemoryStore persists long-term memory and daily notes under
// <workspace>/memory/. Reads swallow I/O errors and return empty content;
// memory is best-effort context, never a hard dependency of a turn.
type MemoryStore struct {
	memoryDir      string
	memoryFilePath string
}

// NewMemoryStore creates a MemoryStore rooted at workspace.
// The memory/ subdirectory is created if it does not exist.
func NewMemoryStore(workspace string) (*MemoryStore, error) {
	dir := filepath.Join(workspace, "memory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &MemoryStore{
		memoryDir:      dir,
		memoryFilePath: filepath.Join(dir, "MEMORY.md"),
	}, nil
}

func (m *MemoryStore) todayPath() string {
	return filepath.Join(m.memoryDir, time.Now().Format("2006-01-02")+".md")
}

// ReadToday returns the contents of today's notes file, or "".
func (m *MemoryStore) ReadToday() string {
	data, err := os.ReadFile(m.todayPath())
	if err != nil {
		return ""
	}
	return string(data)
}

// AppendToday appends a note to today's file, creating it with a
// "# YYYY-MM-DD" header on first write.
func (m *MemoryStore) AppendToday(note string) error {
	path := m.todayPath()
	existing, _ := os.ReadFile(path)

	var sb strings.Builder
	if len(existing) == 0 {
		sb.WriteString("# " + time.Now().Format("2006-01-02") + "\n\n")
	} else {
		sb.Write(existing)
		if !strings.HasSuffix(string(existing), "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(strings.TrimRight(note, " \r\n"))
	sb.WriteString("\n")

	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

// ReadLongTerm returns the current contents of MEMORY.md, or "".
func (m *MemoryStore) ReadLongTerm() string {
	data, err := os.ReadFile(m.memoryFilePath)
	if err != nil {
		return ""
	}
	return string(data)
}

// WriteLongTerm overwrites MEMORY.md with content.
func (m *MemoryStore) WriteLongTerm(content string) error {
	return os.WriteFile(m.memoryFilePath, []byte(content), 0o644)
}

// ListMemoryFiles returns daily note file names (YYYY-MM-DD.md), newest first.
func (m *MemoryStore) ListMemoryFiles() []string {
	entries, err := os.ReadDir(m.memoryDir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || len(name) != 13 || !strings.HasSuffix(name, ".md") {
			continue
		}
		if _, err := time.Parse("2006-01-02", strings.TrimSuffix(name, ".md")); err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names
}

// GetRecentMemories returns the contents of the last `days` daily notes,
// newest first, separated by "\n\n---\n\n".
func (m *MemoryStore) GetRecentMemories(days int) string {
	if days <= 0 {
		return ""
	}
	names := m.ListMemoryFiles()
	if len(names) > days {
		names = names[:days]
	}
	var parts []string
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(m.memoryDir, name))
		if err != nil {
			continue
		}
		if s := strings.TrimSpace(string(data)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// GetMemoryContext returns memory formatted for the system prompt, or "".
func (m *MemoryStore) GetMemoryContext() string {
	var parts []string
	if lt := m.ReadLongTerm(); lt != "" {
		parts = append(parts, "## Long-term Memory\n"+lt)
	}
	if today := m.ReadToday(); today != "" {
		parts = append(parts, "## Today's Notes\n"+today)
	}
	return strings.Join(parts, "\n\n")
}
