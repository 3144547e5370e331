package shm

// Region is a mapped shared-memory object.
type Region interface {
	// Name is the object name passed to Create, e.g. "/dev_tmd_4242".
	Name() string
	Fd() int
	Bytes() []byte
	Size() int
}

// RegionFactory creates and removes shared-memory regions.
type RegionFactory interface {
	Create(name string, size int) (Region, error)
	Remove(r Region) error
}

// MemoryValidator inspects shared-memory objects supplied by callers.
type MemoryValidator interface {
	IsSharedMemoryTyped(fd int) (bool, error)
	FileDescriptorFromPath(path string) (int, error)
}
