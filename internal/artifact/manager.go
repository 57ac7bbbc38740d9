package artifact

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Store persists rendered artifact representations and returns a
// retrievable location per representation.
type Store interface {
	Put(ctx context.Context, name string, contents []byte) (string, error)
}

// FSStore writes representations under a base directory.
type FSStore struct {
	Dir string
}

func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact store dir: %w", err)
	}
	return &FSStore{Dir: dir}, nil
}

func (s *FSStore) Put(_ context.Context, name string, contents []byte) (string, error) {
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Manager renders artifact data into representations and records the
// lifecycle outcome. Create never returns an error: a failed render
// yields an Artifact with Status failed so callers can degrade to a
// warning instead of failing the turn.
type Manager struct {
	store  Store
	logger *log.Logger
}

func NewManager(store Store, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stdout, "[ARTIFACT] ", log.LstdFlags)
	}
	return &Manager{store: store, logger: logger}
}

// Create validates, renders, and stores the data. The returned artifact
// is ready on success and failed otherwise, never pending.
func (m *Manager) Create(ctx context.Context, data Data) Artifact {
	art := Artifact{
		ID:        uuid.New().String(),
		Type:      data.TypeHint(),
		Title:     data.TitleHint(),
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	if err := data.Validate(); err != nil {
		m.fail(&art, fmt.Sprintf("validation: %v", err))
		return art
	}

	interactive, err := renderInteractive(data)
	if err != nil {
		m.fail(&art, fmt.Sprintf("render interactive: %v", err))
		return art
	}
	static, err := renderStatic(data)
	if err != nil {
		m.fail(&art, fmt.Sprintf("render static: %v", err))
		return art
	}

	locations := make(map[string]string, 2)
	loc, err := m.store.Put(ctx, art.ID+".json", interactive)
	if err != nil {
		m.fail(&art, fmt.Sprintf("store interactive: %v", err))
		return art
	}
	locations["interactive"] = loc
	loc, err = m.store.Put(ctx, art.ID+".csv", static)
	if err != nil {
		m.fail(&art, fmt.Sprintf("store static: %v", err))
		return art
	}
	locations["static"] = loc

	if err := art.markReady(locations, int64(len(interactive)+len(static))); err != nil {
		m.fail(&art, err.Error())
		return art
	}
	m.logger.Printf("created %s artifact %s (%d bytes)", art.Type, art.ID, art.Size)
	return art
}

func (m *Manager) fail(art *Artifact, reason string) {
	if err := art.markFailed(reason); err != nil {
		m.logger.Printf("lifecycle violation: %v", err)
		return
	}
	m.logger.Printf("artifact %s failed: %s", art.ID, reason)
}

// renderInteractive produces the JSON representation consumed by
// front-end renderers.
func renderInteractive(data Data) ([]byte, error) {
	doc := map[string]interface{}{
		"kind":  string(data.TypeHint()),
		"title": data.TitleHint(),
		"data":  data,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// renderStatic produces a CSV snapshot usable without a renderer.
func renderStatic(data Data) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	switch d := data.(type) {
	case ChartData:
		header := append([]string{"label"}, namesOf(d.Series)...)
		if err := w.Write(header); err != nil {
			return nil, err
		}
		for i, label := range d.Labels {
			row := make([]string, 0, len(d.Series)+1)
			row = append(row, label)
			for _, s := range d.Series {
				row = append(row, fmt.Sprintf("%g", s.Points[i]))
			}
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
	case TableData:
		if err := w.Write(d.Columns); err != nil {
			return nil, err
		}
		for _, row := range d.Rows {
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unsupported artifact data %T", data)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func namesOf(series []Series) []string {
	names := make([]string, len(series))
	for i, s := range series {
		names[i] = s.Name
	}
	return names
}
