// Package detector answers whether a supervisor recorded in a pid file is
// still the process running under that pid.
package detector

// Detector reports whether a process is running. Implementations are
// safe for concurrent use.
type Detector interface {
	Alive() (bool, error)
	Describe() string
}

var (
	_ Detector = PIDFileDetector{}
	_ Detector = PIDDetector{}
)
