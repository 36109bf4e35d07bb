//go:build !windows

package privilege

import (
	"os"
	"os/user"
	"strconv"
	"testing"

	"github.com/loykin/webvisor/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystem_LookupCurrentUser(t *testing.T) {
	u, err := user.Current()
	if err != nil {
		t.Skipf("no current user: %v", err)
	}
	uid, gid, err := System().LookupUser(u.Username)
	require.NoError(t, err)
	assert.Equal(t, os.Getuid(), uid)
	assert.Equal(t, u.Gid, strconv.Itoa(gid))
}

func TestSystem_NumericGroup(t *testing.T) {
	gid, err := System().LookupGroup("4321")
	require.NoError(t, err)
	assert.Equal(t, 4321, gid)
}

func TestSystem_DowngradeToSelfIsNoop(t *testing.T) {
	cfg := process.RunAsConfig{
		Enable: true,
		UID:    strconv.Itoa(os.Getuid()),
		GID:    strconv.Itoa(os.Getgid()),
	}
	c, err := Downgrade(System(), cfg)
	require.NoError(t, err)
	assert.Equal(t, os.Getuid(), c.UID)
	assert.Equal(t, os.Getgid(), c.GID)
}

func TestSystem_NumericUserWithoutPasswdEntry(t *testing.T) {
	const uid = "4242"
	if _, err := user.LookupId(uid); err == nil {
		t.Skipf("uid %s exists on this host", uid)
	}

	_, err := Resolve(System(), process.RunAsConfig{Enable: true, UID: uid})
	require.ErrorIs(t, err, ErrNoPrimaryGroup)
	var de *DowngradeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "lookup-user", de.Op)

	c, err := Resolve(System(), process.RunAsConfig{Enable: true, UID: uid, GID: "4243"})
	require.NoError(t, err)
	assert.Equal(t, Credentials{UID: 4242, GID: 4243}, c)
}
