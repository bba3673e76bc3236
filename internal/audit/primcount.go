package audit

import (
	"path/filepath"

	"github.com/udisondev/gridsim/internal/primcount"
)

// PrimCountLog records every parcel prim-count report.
type PrimCountLog struct {
	w *Writer
}

// NewPrimCountLog writes under <dir>/primcounts.
func NewPrimCountLog(dir string) *PrimCountLog {
	return &PrimCountLog{w: NewWriter(filepath.Join(dir, "primcounts"), "primcounts")}
}

func (l *PrimCountLog) WriteReport(rep primcount.Report) error { return l.w.Write(rep) }
func (l *PrimCountLog) Close() error                           { return l.w.Close() }
