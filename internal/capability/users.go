package capability

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"
)

// UserLister lists the non-system user accounts a rootless container sweep
// should iterate (spec §4.6 stage 3).
type UserLister interface {
	NonSystemUsers(ctx context.Context) ([]string, error)
}

// ExecUserLister reads PasswdPath (defaulting to "/etc/passwd") via
// NonSystemUsers. It is "Exec" in name only, matching the rest of this
// package's real-implementation naming convention; there is no process
// invocation involved, just a file read.
type ExecUserLister struct {
	PasswdPath string
}

// NonSystemUsers implements UserLister.
func (u ExecUserLister) NonSystemUsers(_ context.Context) ([]string, error) {
	path := u.PasswdPath
	if path == "" {
		path = "/etc/passwd"
	}
	return NonSystemUsers(path)
}

// minNonSystemUID and maxNonSystemUID bound the "regular user" uid range on
// a typical Linux system: below 1000 is reserved for system/service
// accounts (spec §4.6's "non-system user, uid >= 1000"); at and above 60000
// sits the nobody/nogroup placeholder range, which never owns a rootless
// container session worth iterating.
const (
	minNonSystemUID = 1000
	maxNonSystemUID = 60000
)

// NonSystemUsers returns the login names of every account in an
// /etc/passwd-formatted file whose uid falls in [minNonSystemUID,
// maxNonSystemUID), the set of users the container stage's rootless
// iteration (spec §4.6 stage 3, "optionally iterate rootless containers per
// non-system user") runs "<runtime> ps"/"<runtime> stop" under via
// "sudo -u <user>".
func NonSystemUsers(passwdPath string) ([]string, error) {
	f, err := os.Open(passwdPath)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	var users []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 3 {
			continue
		}
		uid, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		if uid >= minNonSystemUID && uid < maxNonSystemUID {
			users = append(users, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return users, nil
}
