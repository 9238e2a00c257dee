// Package nvmdrv provides NVMDriver implementations for persisting
// parameter groups, grounded on the original stack's drv_nvm_sim.c
// (examples/quickstart/driver): a flat byte region initialized to 0xFF,
// read/write clamped to the region's bounds rather than erroring past it.
package nvmdrv

import (
	"os"

	"github.com/coriolis-labs/conode"
)

// Memory is an in-process NVMDriver backed by a plain byte slice, useful
// for tests and for targets with no real non-volatile storage. Erased
// bytes read as 0xFF, matching typical flash erase state and the original
// driver's initial fill.
type Memory struct {
	data []byte
}

func NewMemory(size int) *Memory {
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xFF
	}
	return &Memory{data: data}
}

func (m *Memory) Init() error { return nil }

func (m *Memory) Read(offset uint32, buffer []byte) (int, error) {
	if int(offset) >= len(m.data) {
		return 0, nil
	}
	n := copy(buffer, m.data[offset:])
	return n, nil
}

func (m *Memory) Write(offset uint32, buffer []byte) (int, error) {
	if int(offset) >= len(m.data) {
		return 0, nil
	}
	n := copy(m.data[offset:], buffer)
	return n, nil
}

// File is an NVMDriver backed by a fixed-size regular file, so a parameter
// group store survives process restarts on a Linux host without a real
// NVM chip.
type File struct {
	path string
	size int
	f    *os.File
}

func NewFile(path string, size int) *File {
	return &File{path: path, size: size}
}

func (f *File) Init() error {
	file, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	if info.Size() < int64(f.size) {
		blank := make([]byte, f.size-int(info.Size()))
		for i := range blank {
			blank[i] = 0xFF
		}
		if _, err := file.WriteAt(blank, info.Size()); err != nil {
			file.Close()
			return err
		}
	}
	f.f = file
	return nil
}

func (f *File) Read(offset uint32, buffer []byte) (int, error) {
	n, err := f.f.ReadAt(buffer, int64(offset))
	if n > 0 {
		return n, nil
	}
	return n, err
}

func (f *File) Write(offset uint32, buffer []byte) (int, error) {
	return f.f.WriteAt(buffer, int64(offset))
}

var _ canopen.NVMDriver = (*Memory)(nil)
var _ canopen.NVMDriver = (*File)(nil)
