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

// Package rboot is the runtime-facing surface of the boot loader core: the
// handful of calls an application makes to drive staged updates, switch
// boot slots and arm a factory reset. The boot-time side lives in the boot
// package.
package rboot

import (
	"github.com/juju/errors"

	"github.com/rboot-os/rboot/bootcfg"
	"github.com/rboot-os/rboot/flash"
	"github.com/rboot-os/rboot/ota"
	"github.com/rboot-os/rboot/rtc"
)

// Core bundles the flash-backed stores and the update engine for one
// device.
type Core struct {
	Store   *bootcfg.Store
	Updater *ota.Updater
	Latch   *rtc.Latch
}

// New assembles a core over the platform's flash device and reset-surviving
// memory.
func New(dev flash.Device, mem rtc.Memory) *Core {
	store := bootcfg.NewStore(dev)
	return &Core{
		Store:   store,
		Updater: ota.NewUpdater(dev, store),
		Latch:   rtc.NewLatch(mem),
	}
}

// BeginOTA starts a staged update into targetSlot. The returned session
// exposes Write, End, Cancel and Status.
func (c *Core) BeginOTA(targetSlot uint8, maxSize uint32) (*ota.Session, error) {
	s, err := c.Updater.Begin(targetSlot, maxSize)
	return s, errors.Trace(err)
}

// OTAInProgress reports whether an update session is live.
func (c *Core) OTAInProgress() bool {
	return c.Updater.InProgress()
}

// CurrentSlot returns the slot selected to boot next.
func (c *Core) CurrentSlot() (uint8, error) {
	slot, err := c.Store.CurrentSlot()
	return slot, errors.Trace(err)
}

// SelectSlot switches the boot target manually.
func (c *Core) SelectSlot(slot uint8) error {
	return errors.Trace(c.Store.SelectSlot(slot))
}

// RequestFactoryReset arms (or disarms) a factory reset for the next boot.
func (c *Core) RequestFactoryReset(enable bool) error {
	return errors.Trace(c.Latch.Request(enable))
}
