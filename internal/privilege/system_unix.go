//go:build !windows

package privilege

import (
	"fmt"
	"os/user"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

type system struct{}

// System returns the Privilege of the running OS.
func System() Privilege { return system{} }

func (system) Supported() bool { return true }

func (system) LookupUser(name string) (int, int, error) {
	if name == "" {
		return 0, 0, fmt.Errorf("empty user")
	}
	u, err := user.Lookup(name)
	if err != nil {
		uid, convErr := strconv.Atoi(name)
		if convErr != nil {
			return 0, 0, err
		}
		if u, err = user.LookupId(name); err != nil {
			return uid, -1, nil
		}
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("non-numeric uid %q", u.Uid)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, fmt.Errorf("non-numeric gid %q", u.Gid)
	}
	return uid, gid, nil
}

func (system) LookupGroup(name string) (int, error) {
	if gid, err := strconv.Atoi(name); err == nil {
		return gid, nil
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(g.Gid)
}

// Setgid and Setuid go through package syscall, which applies credential
// changes to all threads. unix.Setgroups only changes the calling thread.
func (system) Setgid(gid int) error {
	if err := syscall.Setgroups([]int{gid}); err != nil {
		return fmt.Errorf("setgroups: %w", err)
	}
	return syscall.Setgid(gid)
}

func (system) Setuid(uid int) error { return syscall.Setuid(uid) }

func (system) Getuid() int { return unix.Getuid() }

func (system) Getgid() int { return unix.Getgid() }
