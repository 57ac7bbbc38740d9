// Package artifact turns structured data produced during synthesis into
// stored, retrievable visual artifacts with a forward-only status
// lifecycle.
package artifact

import (
	"fmt"
	"time"
)

// Type identifies the artifact kind.
type Type string

const (
	TypeChart Type = "chart"
	TypeTable Type = "table"
)

// Status is the artifact lifecycle state. Transitions only move forward:
// pending -> ready or pending -> failed.
type Status string

const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// Artifact is a generated visual output attached to a turn's answer.
// Immutable once ready except for nothing; a failed render keeps the
// record with Status failed so the turn can report a non-fatal warning.
type Artifact struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	Title     string            `json:"title"`
	Status    Status            `json:"status"`
	Locations map[string]string `json:"locations,omitempty"` // representation -> path/url
	Size      int64             `json:"size"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// markReady transitions pending -> ready. Any other transition is refused.
func (a *Artifact) markReady(locations map[string]string, size int64) error {
	if a.Status != StatusPending {
		return fmt.Errorf("artifact %s: cannot move %s -> ready", a.ID, a.Status)
	}
	a.Status = StatusReady
	a.Locations = locations
	a.Size = size
	return nil
}

// markFailed transitions pending -> failed. Any other transition is refused.
func (a *Artifact) markFailed(reason string) error {
	if a.Status != StatusPending {
		return fmt.Errorf("artifact %s: cannot move %s -> failed", a.ID, a.Status)
	}
	a.Status = StatusFailed
	a.Error = reason
	return nil
}

// Data is structured content renderable as an artifact.
type Data interface {
	TypeHint() Type
	TitleHint() string
	Validate() error
}

// Series is one labeled numeric series of a chart.
type Series struct {
	Name   string    `json:"name"`
	Points []float64 `json:"points"`
}

// ChartData is a labeled numeric series set.
type ChartData struct {
	Title  string   `json:"title"`
	Labels []string `json:"labels"`
	Series []Series `json:"series"`
}

func (d ChartData) TypeHint() Type    { return TypeChart }
func (d ChartData) TitleHint() string { return d.Title }

// Validate checks the minimal chart shape: at least one series, every
// series as long as the label axis.
func (d ChartData) Validate() error {
	if len(d.Labels) == 0 {
		return fmt.Errorf("chart requires labels")
	}
	if len(d.Series) == 0 {
		return fmt.Errorf("chart requires at least one series")
	}
	for _, s := range d.Series {
		if s.Name == "" {
			return fmt.Errorf("chart series requires a name")
		}
		if len(s.Points) != len(d.Labels) {
			return fmt.Errorf("series %q has %d points for %d labels", s.Name, len(s.Points), len(d.Labels))
		}
	}
	return nil
}

// TableData is a column/row grid.
type TableData struct {
	Title   string     `json:"title"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

func (d TableData) TypeHint() Type    { return TypeTable }
func (d TableData) TitleHint() string { return d.Title }

// Validate checks the minimal table shape: columns present, every row as
// wide as the header.
func (d TableData) Validate() error {
	if len(d.Columns) == 0 {
		return fmt.Errorf("table requires columns")
	}
	if len(d.Rows) == 0 {
		return fmt.Errorf("table requires at least one row")
	}
	for i, row := range d.Rows {
		if len(row) != len(d.Columns) {
			return fmt.Errorf("row %d has %d cells for %d columns", i, len(row), len(d.Columns))
		}
	}
	return nil
}
