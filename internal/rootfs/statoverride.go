package rootfs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// overrideXattr is the extended attribute a layer file carries when its
// effective uid:gid:mode inside the VM must differ from what an unprivileged
// host process was able to set on disk. Value format: "uid:gid:mode-octal".
const overrideXattr = "user.msb.stat_override"

// statOverride is the parsed form of overrideXattr.
type statOverride struct {
	UID  int
	GID  int
	Mode os.FileMode
}

func readStatOverride(path string) (*statOverride, bool, error) {
	buf := make([]byte, 64)
	n, err := unix.Getxattr(path, overrideXattr, buf)
	if err != nil {
		if err == unix.ENODATA || err == unix.ENOTSUP {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("getxattr %s: %w", path, err)
	}

	parts := strings.SplitN(string(buf[:n]), ":", 3)
	if len(parts) != 3 {
		return nil, false, fmt.Errorf("malformed %s on %s: %q", overrideXattr, path, buf[:n])
	}
	uid, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, false, fmt.Errorf("parse uid in %s: %w", overrideXattr, err)
	}
	gid, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, false, fmt.Errorf("parse gid in %s: %w", overrideXattr, err)
	}
	mode, err := strconv.ParseUint(parts[2], 8, 32)
	if err != nil {
		return nil, false, fmt.Errorf("parse mode in %s: %w", overrideXattr, err)
	}
	return &statOverride{UID: uid, GID: gid, Mode: os.FileMode(mode)}, true, nil
}

// SetStatOverride tags path with the uid/gid/mode it should present to a VM,
// used by layer-building tooling that cannot itself chown as the target
// owner on an unprivileged host.
func SetStatOverride(path string, uid, gid int, mode os.FileMode) error {
	value := fmt.Sprintf("%d:%d:%o", uid, gid, mode)
	return unix.Setxattr(path, overrideXattr, []byte(value), 0)
}

// primeUpperWithOverrides walks each lower layer (lowest-first, so later
// layers win on conflicts, matching overlay semantics) and, for every file
// carrying overrideXattr, copies it into upperDir with the corrected
// ownership and mode applied. Because overlayfs resolves a path in the
// uppermost directory that has it, this makes the merged mount present the
// overridden stat to the VM without ever touching the shared, read-only
// lower layer.
func primeUpperWithOverrides(lowerPaths []string, upperDir string) error {
	for _, lower := range lowerPaths {
		err := filepath.WalkDir(lower, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			override, has, err := readStatOverride(path)
			if err != nil {
				return err
			}
			if !has {
				return nil
			}

			rel, err := filepath.Rel(lower, path)
			if err != nil {
				return err
			}
			dest := filepath.Join(upperDir, rel)
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			if err := copyFile(path, dest, override.Mode); err != nil {
				return err
			}
			if err := os.Chown(dest, override.UID, override.GID); err != nil && !os.IsPermission(err) {
				return fmt.Errorf("chown %s to %d:%d: %w", dest, override.UID, override.GID, err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("apply stat overrides from %s: %w", lower, err)
		}
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	return os.WriteFile(dst, data, mode)
}
