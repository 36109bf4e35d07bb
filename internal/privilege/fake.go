package privilege

import (
	"fmt"
	"strconv"
	"sync"
)

// Fake is an in-memory Privilege for tests. Users and Groups map names to
// ids; numeric names resolve to themselves. Every call that changes ids is
// recorded in Calls and passed to OnCall when set.
type Fake struct {
	Unsupported bool
	Users       map[string][2]int // name -> {uid, primary gid}
	Groups      map[string]int
	FailSetgid  error
	FailSetuid  error
	OnCall      func(op string)

	mu    sync.Mutex
	uid   int
	gid   int
	calls []string
}

// NewFake starts as root.
func NewFake() *Fake {
	return &Fake{Users: map[string][2]int{}, Groups: map[string]int{}}
}

func (f *Fake) Supported() bool { return !f.Unsupported }

func (f *Fake) LookupUser(name string) (int, int, error) {
	if ids, ok := f.Users[name]; ok {
		return ids[0], ids[1], nil
	}
	if n, err := strconv.Atoi(name); err == nil {
		return n, n, nil
	}
	return 0, 0, fmt.Errorf("unknown user %q", name)
}

func (f *Fake) LookupGroup(name string) (int, error) {
	if gid, ok := f.Groups[name]; ok {
		return gid, nil
	}
	if n, err := strconv.Atoi(name); err == nil {
		return n, nil
	}
	return 0, fmt.Errorf("unknown group %q", name)
}

func (f *Fake) Setgid(gid int) error {
	f.record("setgid")
	if f.FailSetgid != nil {
		return f.FailSetgid
	}
	f.mu.Lock()
	f.gid = gid
	f.mu.Unlock()
	return nil
}

func (f *Fake) Setuid(uid int) error {
	f.record("setuid")
	if f.FailSetuid != nil {
		return f.FailSetuid
	}
	f.mu.Lock()
	f.uid = uid
	f.mu.Unlock()
	return nil
}

func (f *Fake) Getuid() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uid
}

func (f *Fake) Getgid() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gid
}

// Calls returns the recorded operations in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) record(op string) {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.mu.Unlock()
	if f.OnCall != nil {
		f.OnCall(op)
	}
}
