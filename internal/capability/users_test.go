package capability_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/ups-guardian/internal/capability"
)

func writePasswd(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "passwd")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestNonSystemUsers_FiltersByUIDRange(t *testing.T) {
	path := writePasswd(t, ""+
		"root:x:0:0:root:/root:/bin/bash\n"+
		"daemon:x:1:1:daemon:/usr/sbin:/usr/sbin/nologin\n"+
		"alice:x:1000:1000:Alice:/home/alice:/bin/bash\n"+
		"bob:x:1001:1001:Bob:/home/bob:/bin/bash\n"+
		"nobody:x:65534:65534:nobody:/nonexistent:/usr/sbin/nologin\n")

	users, err := capability.NonSystemUsers(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, users)
}

func TestNonSystemUsers_IgnoresCommentsAndBlankLines(t *testing.T) {
	path := writePasswd(t, "# comment\n\nalice:x:1000:1000:Alice:/home/alice:/bin/bash\n")
	users, err := capability.NonSystemUsers(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)
}

func TestNonSystemUsers_MalformedLineSkipped(t *testing.T) {
	path := writePasswd(t, "not-enough-fields\nalice:x:1000:1000:Alice:/home/alice:/bin/bash\n")
	users, err := capability.NonSystemUsers(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)
}

func TestNonSystemUsers_NonexistentFile(t *testing.T) {
	_, err := capability.NonSystemUsers("/nonexistent/passwd")
	assert.Error(t, err)
}

func TestExecUserLister_DefaultsToEtcPasswd(t *testing.T) {
	u := capability.ExecUserLister{}
	// Only verifies it doesn't panic and resolves a path; the real
	// /etc/passwd's contents vary by host so no specific users are asserted.
	_, err := u.NonSystemUsers(context.Background())
	assert.NoError(t, err)
}

func TestExecUserLister_CustomPath(t *testing.T) {
	path := writePasswd(t, "alice:x:1000:1000:Alice:/home/alice:/bin/bash\n")
	u := capability.ExecUserLister{PasswdPath: path}
	users, err := u.NonSystemUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)
}
