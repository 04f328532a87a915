package disk

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/user"
	"strconv"
	"strings"
	"sync"
)

// QEMUConfigPath is where libvirt keeps the user and group the QEMU driver
// runs guests as.
const QEMUConfigPath = "/etc/libvirt/qemu.conf"

// fallbackQEMUID is the Fedora/RHEL default uid and gid for qemu.
const fallbackQEMUID = 107

// Owner is a uid/gid pair applied to workspace files. A negative value leaves
// that id unchanged.
type Owner struct {
	UID int
	GID int
}

// NoOwner leaves ownership untouched.
var NoOwner = Owner{UID: -1, GID: -1}

var (
	qemuOwner Owner
	qemuErr   error
	qemuOnce  sync.Once
)

// QEMUOwner returns the uid/gid of the QEMU process user.
//
// It reads the configured user and group from qemu.conf, then tries the common
// account names, and finally falls back to 107. The fallback is returned along
// with an error so callers can log it. The result is cached.
func QEMUOwner() (Owner, error) {
	qemuOnce.Do(func() {
		qemuOwner, qemuErr = lookupQEMUOwner(readQEMUConfiguredUser(QEMUConfigPath))
	})
	return qemuOwner, qemuErr
}

func lookupQEMUOwner(username, groupname string) (Owner, error) {
	if username != "" {
		if u, err := user.Lookup(username); err == nil {
			gid := u.Gid
			if groupname != "" {
				if g, err := user.LookupGroup(groupname); err == nil {
					gid = g.Gid
				}
			}
			return ownerFromStrings(u.Uid, gid)
		}
	}

	for _, name := range []string{"qemu", "libvirt-qemu"} {
		if u, err := user.Lookup(name); err == nil {
			return ownerFromStrings(u.Uid, u.Gid)
		}
	}

	return Owner{UID: fallbackQEMUID, GID: fallbackQEMUID},
		fmt.Errorf("could not determine QEMU user/group, using fallback %d:%d", fallbackQEMUID, fallbackQEMUID)
}

func ownerFromStrings(uid, gid string) (Owner, error) {
	u, err := strconv.Atoi(uid)
	if err != nil {
		return NoOwner, fmt.Errorf("invalid uid %q: %w", uid, err)
	}
	g, err := strconv.Atoi(gid)
	if err != nil {
		return NoOwner, fmt.Errorf("invalid gid %q: %w", gid, err)
	}
	return Owner{UID: u, GID: g}, nil
}

func readQEMUConfiguredUser(path string) (username, groupname string) {
	f, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer func() { _ = f.Close() }()
	return parseQEMUConfiguredUser(f)
}

// parseQEMUConfiguredUser extracts the user and group settings from a
// qemu.conf style document. Missing settings are returned empty.
func parseQEMUConfiguredUser(r io.Reader) (username, groupname string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		switch strings.TrimSpace(key) {
		case "user":
			username = value
		case "group":
			groupname = value
		}
	}
	return username, groupname
}
