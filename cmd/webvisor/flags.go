package main

import "time"

// GlobalFlags holds the persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
}

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	Environment     string
	Daemonize       bool
	PidFile         string
	LogFile         string
	ShutdownTimeout time.Duration
}

// WorkerFlags holds flags for the hidden worker command
type WorkerFlags struct {
	App         string
	Slot        int
	Environment string
}

// StatusFlags holds flags for the status command
type StatusFlags struct {
	AdminURL string
	App      string
	History  int
	JSON     bool
	Insecure bool
	Timeout  time.Duration
}

// StopFlags holds flags for the stop command
type StopFlags struct {
	PidFile string
}

// CertFlags holds flags for the cert command
type CertFlags struct {
	CommonName string
	Hosts      []string
	CertPath   string
	KeyPath    string
	CAPath     string
	ValidFor   time.Duration
}
