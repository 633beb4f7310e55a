package persistence

import (
	"os"

	"golang.org/x/sys/unix"
)

type StorageState int

const (
	StorageAbsent StorageState = iota
	StorageMountedReadOnly
	StorageMounted
)

func (s StorageState) String() string {
	switch s {
	case StorageMounted:
		return "mounted"
	case StorageMountedReadOnly:
		return "mounted_read_only"
	default:
		return "absent"
	}
}

// ExternalStorage reports whether an export root can be written to.
type ExternalStorage interface {
	State(root string) StorageState
}

// VolumeProbe checks an export root on the local filesystem without writing to it.
type VolumeProbe struct{}

func (VolumeProbe) State(root string) StorageState {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return StorageAbsent
	}
	if err := unix.Access(root, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return StorageMountedReadOnly
	}
	return StorageMounted
}
