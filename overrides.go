package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// overridesStore is the Custom Overrides Store of spec.md §4.3: a line-oriented text file that is
// replayed in full on startup and after every blocklist rebuild, and appended to on every admin
// change. Each line is either a plain
// addition ("domain") or a tombstoned deletion ("#domain"), matching the firmware's
// updateCustomFile/loadCustom convention in original_source/appSpecific.cpp.
type overridesStore struct {
	path string
	mu   sync.Mutex
}

func newOverridesStore(path string) *overridesStore {
	return &overridesStore{path: path}
}

// overrideLine is one decoded entry from the overrides file.
type overrideLine struct {
	Domain  string
	Deleted bool
}

// replay reads every line of the overrides file in order and returns the decoded entries. A
// missing file is not an error; it means no overrides have been recorded yet.
func (s *overridesStore) replay() ([]overrideLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening overrides file %s: %w", s.path, err)
	}
	defer f.Close()

	var lines []overrideLine
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		if strings.HasPrefix(raw, "#") {
			lines = append(lines, overrideLine{Domain: strings.TrimPrefix(raw, "#"), Deleted: true})
			continue
		}
		lines = append(lines, overrideLine{Domain: raw})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading overrides file %s: %w", s.path, err)
	}
	return lines, nil
}

// appendAdd records a new custom domain addition by appending a plain line.
func (s *overridesStore) appendAdd(domain string) error {
	return s.appendLine(domain)
}

// appendDelete records a custom domain removal by appending a "#"-prefixed tombstone line, the
// same convention the firmware uses so that loadCustom's replay can undo an earlier addition
// without rewriting the whole file.
func (s *overridesStore) appendDelete(domain string) error {
	return s.appendLine("#" + domain)
}

func (s *overridesStore) appendLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening overrides file %s for append: %w", s.path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("appending to overrides file %s: %w", s.path, err)
	}
	return nil
}

// clear truncates the overrides file, discarding the full custom history. Used by the admin
// zzCustom command.
func (s *overridesStore) clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("truncating overrides file %s: %w", s.path, err)
	}
	return f.Close()
}
