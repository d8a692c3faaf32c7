package task

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/service/transfer"
)

// Exporter packs a box into a downloadable archive.
type Exporter interface {
	Export(ctx context.Context, userID, boxID uuid.UUID) (*transfer.ExportResult, error)
}

// ExportTask exports one box in the background.
type ExportTask struct {
	id       uuid.UUID
	userID   uuid.UUID
	boxID    uuid.UUID
	exporter Exporter
	result   *transfer.ExportResult
}

// Ensure ExportTask implements ResultTask interface
var _ ResultTask = (*ExportTask)(nil)

// NewExportTask creates a task exporting boxID for userID.
func NewExportTask(exporter Exporter, userID, boxID uuid.UUID) (*ExportTask, error) {
	if exporter == nil {
		return nil, errors.New("exporter cannot be nil")
	}
	return &ExportTask{
		id:       uuid.New(),
		userID:   userID,
		boxID:    boxID,
		exporter: exporter,
	}, nil
}

// ID implements Task.ID
func (t *ExportTask) ID() uuid.UUID { return t.id }

// Type implements Task.Type
func (t *ExportTask) Type() string { return TypeExport }

// UserID implements Task.UserID
func (t *ExportTask) UserID() uuid.UUID { return t.userID }

// Execute implements Task.Execute
func (t *ExportTask) Execute(ctx context.Context) error {
	res, err := t.exporter.Export(ctx, t.userID, t.boxID)
	if err != nil {
		return err
	}
	t.result = res
	return nil
}

// Result returns the download link once the export has completed.
func (t *ExportTask) Result() any {
	return t.result
}
