// Package archive persists completed intake records. Archiving is
// best-effort from the engine's point of view: a failed write never fails
// the turn that completed the session.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"

	"github.com/tbxark/intakeagent/fields"
)

var (
	ErrNotArchived = errors.New("intake not archived")
	ErrSaveFailed  = errors.New("archive save failed")
)

// Record is the document written for one completed session.
type Record struct {
	SessionID   string     `json:"session_id"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt time.Time  `json:"completed_at"`
	Fields      fields.Set `json:"fields"`
}

// Archiver stores completed intake records.
type Archiver interface {
	Save(ctx context.Context, rec Record) error
}

// FileArchiver writes one JSON file per session under a root directory,
// using a temp file + rename so readers never observe partial documents.
type FileArchiver struct {
	root string
}

func NewFileArchiver(root string) *FileArchiver {
	return &FileArchiver{root: root}
}

func (a *FileArchiver) path(sessionID string) string {
	return filepath.Join(a.root, "intake_"+sessionID+".json")
}

func (a *FileArchiver) Save(_ context.Context, rec Record) error {
	if err := os.MkdirAll(a.root, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	data, err := sonic.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	tmp, err := os.CreateTemp(a.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	if err := os.Rename(tmpName, a.path(rec.SessionID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	return nil
}

// Load reads back a previously archived record, mostly for tooling and
// tests.
func (a *FileArchiver) Load(sessionID string) (*Record, error) {
	data, err := os.ReadFile(a.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotArchived, sessionID)
		}
		return nil, err
	}
	var rec Record
	if err := sonic.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode archive %s: %w", sessionID, err)
	}
	return &rec, nil
}
