//go:build !linux

package shm

import (
	"os"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/errcode"
)

// DefaultDir is unused off Linux.
const DefaultDir = ""

// Validator rejects every object off Linux.
type Validator struct{}

// NewValidator returns a Validator.
func NewValidator(string) *Validator { return &Validator{} }

// IsSharedMemoryTyped always reports false.
func (*Validator) IsSharedMemoryTyped(int) (bool, error) { return false, nil }

// FileDescriptorFromPath is unsupported.
func (*Validator) FileDescriptorFromPath(string) (int, error) {
	return -1, errcode.BadFileDescriptor
}

// Factory cannot create regions off Linux.
type Factory struct{}

// NewFactory returns a Factory.
func NewFactory(string, MemoryValidator, *zap.Logger) *Factory { return &Factory{} }

// Create is unsupported.
func (*Factory) Create(string, int) (Region, error) {
	return nil, errcode.SharedMemoryObjectRegistrationFailed
}

// Remove is unsupported.
func (*Factory) Remove(Region) error { return errcode.InvalidArgument }

// Pid returns the calling process id.
func Pid() int { return os.Getpid() }
