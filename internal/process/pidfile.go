package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// PIDRecord is what a supervisor writes to its pid file.
type PIDRecord struct {
	PID       int       `json:"pid"`
	Config    string    `json:"config,omitempty"`
	StartedAt time.Time `json:"started_at"`
	StartUnix int64     `json:"start_unix,omitempty"` // process start as seen by the OS
}

// WritePIDFile writes the pid on the first line followed by the JSON record.
func WritePIDFile(path string, rec PIDRecord) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data := strconv.Itoa(rec.PID) + "\n" + string(b) + "\n"
	return os.WriteFile(path, []byte(data), 0o600)
}

// ReadPIDFile reads a pid file written by WritePIDFile. A file holding only
// a pid is accepted; the rest of the record is then left zero.
func ReadPIDFile(path string) (PIDRecord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return PIDRecord{}, err
	}
	pidLine, rest, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return PIDRecord{}, fmt.Errorf("invalid pid file %s: %w", path, err)
	}
	rec := PIDRecord{PID: pid}
	if rest = strings.TrimSpace(rest); rest != "" {
		_ = json.Unmarshal([]byte(rest), &rec)
		rec.PID = pid
	}
	return rec, nil
}
