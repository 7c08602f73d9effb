//go:build linux

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// superMagics maps f_type values to the names in networkFilesystems. Local types are
// reported as hex and pass the check.
var superMagics = map[uint32]string{
	0x6969:     "nfs",
	0xFF534D42: "cifs",
	0x517B:     "smbfs",
	0xFE534D42: "smb2",
	0x01021997: "9p",
	0x00C36400: "ceph",
}

func detectFilesystemType(path string) (string, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}
	// f_type is int32 on some 32-bit targets; every magic fits in 32 bits.
	magic := uint32(st.Type)
	if name, ok := superMagics[magic]; ok {
		return name, nil
	}
	return fmt.Sprintf("0x%x", magic), nil
}
