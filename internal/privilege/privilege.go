// Package privilege switches a worker to an unprivileged user and group
// after its listeners are bound.
package privilege

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/loykin/webvisor/internal/process"
)

var (
	// ErrUnsupported is returned when the platform has no POSIX credentials.
	ErrUnsupported = errors.New("privilege downgrade not supported on this platform")
	// ErrNoPrimaryGroup is returned for a user without a primary group when
	// run_as.gid is not set.
	ErrNoPrimaryGroup = errors.New("user has no primary group, set run_as.gid")
)

// Privilege is the set of credential operations a downgrade needs.
type Privilege interface {
	Supported() bool
	// LookupUser resolves a user name or numeric id to uid and primary gid.
	// gid is -1 when the user has no passwd entry.
	LookupUser(name string) (uid, gid int, err error)
	// LookupGroup resolves a group name or numeric id.
	LookupGroup(name string) (int, error)
	// Setgid replaces the supplementary groups and sets the group id on
	// every thread of the process.
	Setgid(gid int) error
	Setuid(uid int) error
	Getuid() int
	Getgid() int
}

// DowngradeError reports which step of a downgrade failed.
type DowngradeError struct {
	Op  string // lookup-user, lookup-group, setgid, setuid, verify
	ID  string
	Err error
}

func (e *DowngradeError) Error() string {
	return fmt.Sprintf("privilege downgrade %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *DowngradeError) Unwrap() error { return e.Err }

// Credentials are the ids a process ended up with.
type Credentials struct {
	UID int
	GID int
}

// Resolve turns a RunAsConfig into numeric ids without changing anything.
func Resolve(p Privilege, cfg process.RunAsConfig) (Credentials, error) {
	uid, primary, err := p.LookupUser(cfg.UID)
	if err != nil {
		return Credentials{}, &DowngradeError{Op: "lookup-user", ID: cfg.UID, Err: err}
	}
	gid := primary
	if cfg.GID == "" && gid < 0 {
		return Credentials{}, &DowngradeError{Op: "lookup-user", ID: cfg.UID, Err: ErrNoPrimaryGroup}
	}
	if cfg.GID != "" {
		gid, err = p.LookupGroup(cfg.GID)
		if err != nil {
			return Credentials{}, &DowngradeError{Op: "lookup-group", ID: cfg.GID, Err: err}
		}
	}
	return Credentials{UID: uid, GID: gid}, nil
}

// Downgrade switches the group first and then the user; after setuid the
// process could no longer change its group. The result is verified.
// A process already running as the target ids is left untouched.
func Downgrade(p Privilege, cfg process.RunAsConfig) (Credentials, error) {
	if !p.Supported() {
		return Credentials{}, ErrUnsupported
	}
	c, err := Resolve(p, cfg)
	if err != nil {
		return Credentials{}, err
	}
	if p.Getuid() == c.UID && p.Getgid() == c.GID {
		return c, nil
	}
	if err := p.Setgid(c.GID); err != nil {
		return Credentials{}, &DowngradeError{Op: "setgid", ID: strconv.Itoa(c.GID), Err: err}
	}
	if err := p.Setuid(c.UID); err != nil {
		return Credentials{}, &DowngradeError{Op: "setuid", ID: strconv.Itoa(c.UID), Err: err}
	}
	if got := p.Getuid(); got != c.UID {
		return Credentials{}, &DowngradeError{Op: "verify", ID: strconv.Itoa(c.UID), Err: fmt.Errorf("uid is still %d", got)}
	}
	if got := p.Getgid(); got != c.GID {
		return Credentials{}, &DowngradeError{Op: "verify", ID: strconv.Itoa(c.GID), Err: fmt.Errorf("gid is still %d", got)}
	}
	return c, nil
}
