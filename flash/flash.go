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

// Package flash defines the primitive flash operations the boot loader core
// is built on, plus host-side device implementations used for testing and
// simulation. Real hardware supplies its own Device (SPIRead/SPIWrite/
// SPIEraseSector equivalents).
package flash

import (
	"github.com/juju/errors"
)

const (
	// SectorSize is the smallest erasable unit. All record and buffer sizes
	// in this repo are multiples of it.
	SectorSize = 0x1000

	// ImageMagicByte is the first byte of a bootable image header.
	ImageMagicByte = 0xe9

	// DefaultFlashSize is assumed when the size probe cannot parse the
	// header, at least 4 Mbit.
	DefaultFlashSize = 0x80000
)

// Primitive failure sentinels. Device implementations wrap these so that
// callers can classify failures with errors.Cause.
var (
	ErrRead  = errors.New("flash read failed")
	ErrWrite = errors.New("flash write failed")
	ErrErase = errors.New("flash erase failed")
)

// Device is the platform flash. Operations are synchronous and unordered
// with respect to power loss.
type Device interface {
	// Read fills buf from flash starting at addr.
	Read(addr uint32, buf []byte) error
	// Write programs data at addr. Flash cells only go 1->0; the sector
	// must have been erased for the data to come out as written.
	Write(addr uint32, data []byte) error
	// EraseSector resets the whole sector to 0xff.
	EraseSector(sector int) error
	// Size returns the device capacity in bytes.
	Size() int
}

// SectorOf returns the sector covering the given byte address.
func SectorOf(addr uint32) int {
	return int(addr / SectorSize)
}

// ProbeSize detects flash capacity by parsing the size nibble of the image
// header at address 0. Best effort: any failure or unknown value yields
// DefaultFlashSize.
func ProbeSize(dev Device) int {
	var hdr [4]byte
	if err := dev.Read(0, hdr[:]); err != nil {
		return DefaultFlashSize
	}
	if hdr[0] != ImageMagicByte {
		return DefaultFlashSize
	}
	switch hdr[3] >> 4 {
	case 0:
		return 0x80000 // 4 Mbit
	case 1:
		return 0x40000 // 2 Mbit
	case 2:
		return 0x100000 // 8 Mbit
	case 3, 5:
		return 0x200000 // 16 Mbit
	case 4, 6:
		return 0x400000 // 32 Mbit
	case 8:
		return 0x800000 // 64 Mbit
	case 9:
		return 0x1000000 // 128 Mbit
	}
	return DefaultFlashSize
}
