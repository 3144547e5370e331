//go:build linux

package shm

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/errcode"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/logging"
)

// DefaultDir is where Linux keeps POSIX shared-memory objects.
const DefaultDir = "/dev/shm"

const regionMode = 0o666

// Validator implements MemoryValidator with fstatfs.
type Validator struct {
	dir string
}

// NewValidator resolves object names relative to dir (DefaultDir if empty).
func NewValidator(dir string) *Validator {
	if dir == "" {
		dir = DefaultDir
	}
	return &Validator{dir: dir}
}

// IsSharedMemoryTyped reports whether fd is backed by tmpfs.
func (v *Validator) IsSharedMemoryTyped(fd int) (bool, error) {
	if fd < 0 {
		return false, errcode.BadFileDescriptor
	}
	var st unix.Statfs_t
	if err := unix.Fstatfs(fd, &st); err != nil {
		return false, fmt.Errorf("fstatfs fd %d: %w: %w", fd, errcode.BadFileDescriptor, err)
	}
	return st.Type == unix.TMPFS_MAGIC, nil
}

// FileDescriptorFromPath opens the named object read-only.
func (v *Validator) FileDescriptorFromPath(path string) (int, error) {
	if path == "" {
		return -1, errcode.InvalidArgument
	}
	fd, err := unix.Open(resolve(v.dir, path), unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("open shared memory %q: %w: %w", path, errcode.BadFileDescriptor, err)
	}
	return fd, nil
}

// Factory implements RegionFactory with open, ftruncate and mmap.
type Factory struct {
	dir       string
	validator MemoryValidator
	logger    *zap.Logger
}

// NewFactory creates regions under dir (DefaultDir if empty). Regions that
// validator does not report as typed memory are rejected.
func NewFactory(dir string, validator MemoryValidator, logger *zap.Logger) *Factory {
	if dir == "" {
		dir = DefaultDir
	}
	if validator == nil {
		validator = NewValidator(dir)
	}
	return &Factory{dir: dir, validator: validator, logger: logging.OrNop(logger)}
}

type region struct {
	name string
	path string
	fd   int
	mem  []byte
}

func (r *region) Name() string  { return r.name }
func (r *region) Fd() int       { return r.fd }
func (r *region) Bytes() []byte { return r.mem }
func (r *region) Size() int     { return len(r.mem) }

// Create creates, sizes and maps a new region, replacing a stale object of
// the same name left behind by a previous process with this pid.
func (f *Factory) Create(name string, size int) (Region, error) {
	if name == "" || size <= 0 {
		return nil, errcode.InvalidArgument
	}
	path := resolve(f.dir, name)

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, regionMode)
	if errors.Is(err, unix.EEXIST) {
		f.logger.Warn("removing stale shared memory region", zap.String("path", path))
		_ = unix.Unlink(path)
		fd, err = unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, regionMode)
	}
	if err != nil {
		return nil, fmt.Errorf("create %q: %w: %w", path, errcode.SharedMemoryObjectRegistrationFailed, err)
	}

	fail := func(cause error) (Region, error) {
		_ = unix.Close(fd)
		_ = unix.Unlink(path)
		return nil, cause
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return fail(fmt.Errorf("size %q: %w: %w", path, errcode.SharedMemoryObjectRegistrationFailed, err))
	}

	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fail(fmt.Errorf("map %q: %w: %w", path, errcode.SharedMemoryObjectRegistrationFailed, err))
	}

	typed, err := f.validator.IsSharedMemoryTyped(fd)
	if err != nil || !typed {
		_ = unix.Munmap(mem)
		return fail(fmt.Errorf("region %q: %w", path, errcode.NotTypedMemory))
	}

	f.logger.Debug("shared memory region created", zap.String("path", path), zap.Int("size", size))
	return &region{name: name, path: path, fd: fd, mem: mem}, nil
}

// Remove unmaps, closes and unlinks a region created by f.
func (f *Factory) Remove(r Region) error {
	reg, ok := r.(*region)
	if !ok || reg == nil {
		return errcode.InvalidArgument
	}

	var errs []error
	if reg.mem != nil {
		errs = append(errs, unix.Munmap(reg.mem))
		reg.mem = nil
	}
	if reg.fd >= 0 {
		errs = append(errs, unix.Close(reg.fd))
		reg.fd = -1
	}
	if err := unix.Unlink(reg.path); err != nil && !errors.Is(err, unix.ENOENT) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Pid returns the calling process id.
func Pid() int {
	return unix.Getpid()
}

func resolve(dir, name string) string {
	if strings.HasPrefix(name, dir+"/") {
		return name
	}
	return filepath.Join(dir, strings.TrimPrefix(name, "/"))
}
