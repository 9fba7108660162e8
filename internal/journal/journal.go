// Package journal persists per-run artifacts: metadata, step snapshots,
// decision payloads, and the human-readable run log. Every run gets its own
// directory under the runs root; a SQLite index supports listing runs
// without walking the tree.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

// DirName renders the run directory name: the ISO start timestamp with
// colons replaced by dashes so it is a legal path on every platform.
func DirName(startedAt time.Time) string {
	return strings.ReplaceAll(startedAt.UTC().Format(time.RFC3339), ":", "-")
}

// Meta is the run metadata written once at run start.
type Meta struct {
	RunID     string    `json:"runId"`
	Goal      string    `json:"goal"`
	MaxSteps  int       `json:"maxSteps"`
	BootURL   string    `json:"bootUrl,omitempty"`
	Headless  bool      `json:"headless"`
	StartedAt time.Time `json:"startedAt"`
}

// Journal writes artifacts for a single run.
type Journal struct {
	dir string

	mu       sync.Mutex
	runLog   *os.File
	workflow *os.File
}

// New creates the per-run directory under root and opens the log streams.
func New(root string, startedAt time.Time) (*Journal, error) {
	dir := filepath.Join(root, DirName(startedAt))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	runLog, err := os.OpenFile(filepath.Join(dir, "run.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run.log: %w", err)
	}
	workflow, err := os.OpenFile(filepath.Join(dir, "workflow.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		runLog.Close()
		return nil, fmt.Errorf("open workflow.log: %w", err)
	}

	return &Journal{dir: dir, runLog: runLog, workflow: workflow}, nil
}

// Dir returns the run directory path.
func (j *Journal) Dir() string { return j.dir }

// Close releases the log file handles. Artifact writers stay usable.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var first error
	if j.runLog != nil {
		if err := j.runLog.Close(); err != nil {
			first = err
		}
		j.runLog = nil
	}
	if j.workflow != nil {
		if err := j.workflow.Close(); err != nil && first == nil {
			first = err
		}
		j.workflow = nil
	}
	return first
}

// WriteMeta persists meta.json. Called once when the run starts.
func (j *Journal) WriteMeta(meta Meta) error {
	return j.writeJSONFile("meta.json", meta)
}

// WriteSummary persists summary.json. Called on every terminal path so the
// directory always explains how the run ended.
func (j *Journal) WriteSummary(summary models.RunSummary) error {
	return j.writeJSONFile("summary.json", summary)
}

// Logf appends an ISO-timestamped line to run.log.
func (j *Journal) Logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	stamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.runLog == nil {
		return
	}
	fmt.Fprintf(j.runLog, "%s %s\n", stamp, line)
}

// Workflow appends one JSON object to workflow.log keyed by stage.
func (j *Journal) Workflow(stage string, fields map[string]any) {
	entry := map[string]any{
		"stage": stage,
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range fields {
		if k == "stage" || k == "ts" {
			continue
		}
		entry[k] = v
	}

	data, err := json.Marshal(MaskSecrets(entry))
	if err != nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.workflow == nil {
		return
	}
	j.workflow.Write(append(data, '\n'))
}

// SavePNG writes a step-indexed PNG artifact, e.g. 03_critic.png.
func (j *Journal) SavePNG(step int, name string, data []byte) error {
	return os.WriteFile(j.stepPath(step, name+".png"), data, 0o644)
}

// SaveJSON writes a step-indexed JSON artifact with secrets masked,
// e.g. 03_critic-input.json.
func (j *Journal) SaveJSON(step int, name string, v any) error {
	masked, err := maskJSON(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return os.WriteFile(j.stepPath(step, name+".json"), masked, 0o644)
}

func (j *Journal) stepPath(step int, file string) string {
	return filepath.Join(j.dir, fmt.Sprintf("%02d_%s", step, file))
}

func (j *Journal) writeJSONFile(name string, v any) error {
	masked, err := maskJSON(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(j.dir, name), masked, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// maskJSON round-trips v through JSON so the masking walker sees plain maps
// regardless of the caller's static type.
func maskJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	return json.MarshalIndent(MaskSecrets(decoded), "", "  ")
}
