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
package main

import (
	"github.com/fatih/color"
	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/rboot-os/rboot/boot"
	"github.com/rboot-os/rboot/bootcfg"
	"github.com/rboot-os/rboot/cli/ourutil"
	"github.com/rboot-os/rboot/flash"
)

// hostDriver stands in for the platform: LED signals become colored lines,
// the jump and halt become reports, restart requests another dispatch loop
// iteration.
type hostDriver struct {
	restarted bool
}

func (h *hostDriver) SignalBootStart() {
	ourutil.ColorReportf(color.FgYellow, "[led on] boot start")
}

func (h *hostDriver) SignalBootSuccess() {
	ourutil.ColorReportf(color.FgGreen, "[led off] boot dispatch done")
}

func (h *hostDriver) TransferControl(addr uint32) {
	ourutil.Reportf("Jumping to image at 0x%x", addr)
}

func (h *hostDriver) Restart() {
	ourutil.Reportf("Device restart")
	h.restarted = true
}

func (h *hostDriver) Halt() {
	ourutil.ColorReportf(color.FgRed, "No bootable image, halting")
}

// hostLocator is a simulator stand-in for the real image locator: it only
// checks the image marker byte, trying the current slot first and the
// remaining slots after it.
type hostLocator struct {
	dev flash.Device
}

func (l *hostLocator) LocateBootableImage(cfg *bootcfg.Config) (uint32, bool) {
	order := []uint8{cfg.CurrentSlot}
	for i := uint8(0); i < cfg.SlotCount; i++ {
		if i != cfg.CurrentSlot {
			order = append(order, i)
		}
	}
	for _, slot := range order {
		var hdr [1]byte
		if err := l.dev.Read(cfg.Slots[slot], hdr[:]); err != nil {
			glog.Warningf("slot %d: %v", slot, err)
			continue
		}
		if hdr[0] == flash.ImageMagicByte {
			if slot != cfg.CurrentSlot {
				glog.Warningf("slot %d is bad, falling back to %d", cfg.CurrentSlot, slot)
			}
			return cfg.Slots[slot], true
		}
	}
	return 0, false
}

func bootDevice() error {
	core, dev, err := openCore()
	if err != nil {
		return errors.Trace(err)
	}
	driver := &hostDriver{}
	d := &boot.Dispatcher{
		Dev:     dev,
		Store:   core.Store,
		Latch:   core.Latch,
		Locator: &hostLocator{dev: dev},
		Driver:  driver,
	}
	// A factory reset ends in a restart; give the dispatcher another go so
	// one "boot" invocation behaves like the device would.
	for i := 0; i < 2; i++ {
		if err := d.Run(); err != nil {
			return errors.Trace(err)
		}
		if !driver.restarted {
			break
		}
		driver.restarted = false
	}
	return nil
}
