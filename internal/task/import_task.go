package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// Importer materializes an archive into a new box.
type Importer interface {
	Import(ctx context.Context, r io.Reader, boxName string, userID uuid.UUID) (uuid.UUID, error)
}

// ImportResult reports the box an import created.
type ImportResult struct {
	BoxID uuid.UUID `json:"box_id"`
}

// ImportTask imports an uploaded archive in the background. The archive is
// read from a spooled file that the task removes when it finishes.
type ImportTask struct {
	id       uuid.UUID
	userID   uuid.UUID
	boxName  string
	path     string
	importer Importer
	result   *ImportResult
}

// Ensure ImportTask implements ResultTask interface
var _ ResultTask = (*ImportTask)(nil)

// NewImportTask creates a task importing the archive at path into a new box
// named boxName. The task takes ownership of the file.
func NewImportTask(importer Importer, userID uuid.UUID, boxName, path string) (*ImportTask, error) {
	if importer == nil {
		return nil, errors.New("importer cannot be nil")
	}
	if path == "" {
		return nil, errors.New("archive path cannot be empty")
	}
	return &ImportTask{
		id:       uuid.New(),
		userID:   userID,
		boxName:  boxName,
		path:     path,
		importer: importer,
	}, nil
}

// ID implements Task.ID
func (t *ImportTask) ID() uuid.UUID { return t.id }

// Type implements Task.Type
func (t *ImportTask) Type() string { return TypeImport }

// UserID implements Task.UserID
func (t *ImportTask) UserID() uuid.UUID { return t.userID }

// Execute implements Task.Execute
func (t *ImportTask) Execute(ctx context.Context) (err error) {
	defer func() {
		if rmErr := os.Remove(t.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = multierr.Append(err, fmt.Errorf("failed to remove spooled archive: %w", rmErr))
		}
	}()

	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("failed to open spooled archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	boxID, err := t.importer.Import(ctx, f, t.boxName, t.userID)
	if err != nil {
		return err
	}
	t.result = &ImportResult{BoxID: boxID}
	return nil
}

// Result returns the created box once the import has completed.
func (t *ImportTask) Result() any {
	return t.result
}

// Discard removes the spooled archive of a task that will never run.
func (t *ImportTask) Discard() error {
	if err := os.Remove(t.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
