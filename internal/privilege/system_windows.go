//go:build windows

package privilege

type system struct{}

// System returns a Privilege that reports no support; Windows has no
// setuid/setgid.
func System() Privilege { return system{} }

func (system) Supported() bool { return false }
func (system) LookupUser(string) (int, int, error) { return 0, 0, ErrUnsupported }
func (system) LookupGroup(string) (int, error) { return 0, ErrUnsupported }
func (system) Setgid(int) error { return ErrUnsupported }
func (system) Setuid(int) error { return ErrUnsupported }
func (system) Getuid() int { return -1 }
func (system) Getgid() int { return -1 }
