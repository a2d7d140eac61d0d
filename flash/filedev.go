//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
package flash

import (
	"io/ioutil"
	"os"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

// FileDevice is a flash image stored in a host file, with the same NOR
// semantics as MemDevice. The simulator CLI uses it so that device state
// survives between invocations the way real flash survives reboots.
type FileDevice struct {
	fname string
	mem   *MemDevice
}

// OpenFileDevice loads an existing image file. The file size must be a
// multiple of the sector size.
func OpenFileDevice(fname string) (*FileDevice, error) {
	data, err := ioutil.ReadFile(fname)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read flash image %s", fname)
	}
	if len(data) == 0 || len(data)%SectorSize != 0 {
		return nil, errors.Errorf("%s: image size %d is not a multiple of the sector size (%d)",
			fname, len(data), SectorSize)
	}
	d := &FileDevice{fname: fname, mem: NewMemDevice(len(data))}
	copy(d.mem.mem, data)
	return d, nil
}

// CreateFileDevice creates a new, fully erased image file.
func CreateFileDevice(fname string, size int) (*FileDevice, error) {
	if size <= 0 || size%SectorSize != 0 {
		return nil, errors.Errorf("image size %d is not a multiple of the sector size (%d)",
			size, SectorSize)
	}
	d := &FileDevice{fname: fname, mem: NewMemDevice(size)}
	if err := d.Sync(); err != nil {
		return nil, errors.Trace(err)
	}
	return d, nil
}

func (d *FileDevice) Size() int {
	return d.mem.Size()
}

func (d *FileDevice) Read(addr uint32, buf []byte) error {
	return errors.Trace(d.mem.Read(addr, buf))
}

func (d *FileDevice) Write(addr uint32, data []byte) error {
	if err := d.mem.Write(addr, data); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.Sync())
}

func (d *FileDevice) EraseSector(sector int) error {
	if err := d.mem.EraseSector(sector); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.Sync())
}

// Sync writes the image back to the file.
func (d *FileDevice) Sync() error {
	glog.V(3).Infof("syncing %d bytes to %s", d.mem.Size(), d.fname)
	if err := ioutil.WriteFile(d.fname, d.mem.mem, 0644); err != nil {
		return errors.Annotatef(err, "failed to write flash image %s", d.fname)
	}
	return nil
}

// Remove deletes the backing file. Test helper.
func (d *FileDevice) Remove() error {
	return os.Remove(d.fname)
}
