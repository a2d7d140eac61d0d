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

// Package boot is the boot-time orchestrator: it services a pending
// factory reset, asks the image locator for a bootable address and hands
// control to it. It runs once per boot, sequentially, with no persistent
// state of its own.
package boot

import (
	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/rboot-os/rboot/bootcfg"
	"github.com/rboot-os/rboot/flash"
	"github.com/rboot-os/rboot/rtc"
)

// PlatformDriver is the injected platform capability: visual signalling,
// the jump into a loaded image, restart and halt. On hardware these are
// register pokes and a trampoline; on a host they are fakes, which is what
// keeps the dispatcher testable.
type PlatformDriver interface {
	SignalBootStart()
	SignalBootSuccess()
	// TransferControl jumps to the image at addr and does not return.
	TransferControl(addr uint32)
	// Restart reboots the device and does not return.
	Restart()
	// Halt parks the device and does not return.
	Halt()
}

// ImageLocator finds a bootable image for the current configuration. Its
// selection policy (ordering, skip on bad checksum, fallback slot) belongs
// to the collaborator, not to this package.
type ImageLocator interface {
	// LocateBootableImage returns the load address of a good image, or
	// false if none could be found.
	LocateBootableImage(cfg *bootcfg.Config) (uint32, bool)
}

// Dispatcher wires the boot sequence together.
type Dispatcher struct {
	Dev     flash.Device
	Store   *bootcfg.Store
	Latch   *rtc.Latch
	Locator ImageLocator
	Driver  PlatformDriver
}

// Run executes one boot attempt. It only returns on error before the point
// of no return; on the success path control ends up in TransferControl,
// Restart or Halt.
func (d *Dispatcher) Run() error {
	d.Driver.SignalBootStart()

	pending, err := d.Latch.ConsumeIfSet()
	if err != nil {
		return errors.Annotatef(err, "failed to consume factory reset latch")
	}
	if pending {
		d.performReset()
		// Not reached on hardware; fakes return.
		return nil
	}

	cfg, err := d.loadConfig()
	if err != nil {
		return errors.Trace(err)
	}

	addr, ok := d.Locator.LocateBootableImage(cfg)
	d.Driver.SignalBootSuccess()
	if !ok {
		glog.Errorf("no bootable image found")
		d.Driver.Halt()
		return nil
	}
	glog.Infof("booting image at 0x%x", addr)
	d.Driver.TransferControl(addr)
	return nil
}

// loadConfig reads the boot configuration, rewriting defaults when the
// record is missing or corrupt (fresh install, failed rewrite).
func (d *Dispatcher) loadConfig() (*bootcfg.Config, error) {
	cfg, err := d.Store.Load()
	if err == nil {
		return cfg, nil
	}
	if errors.Cause(err) != bootcfg.ErrCorrupt {
		return nil, errors.Annotatef(err, "failed to load boot config")
	}
	glog.Warningf("boot config corrupt, writing defaults: %v", err)
	if err := d.Store.WriteDefault(flash.ProbeSize(d.Dev)); err != nil {
		return nil, errors.Annotatef(err, "failed to write default boot config")
	}
	return d.Store.Load()
}

// performReset restores the default configuration and restarts,
// unconditionally, so the freshly written record is what the next boot
// reads. The flash size probe is best effort and falls back to a
// conservative default rather than failing the reset.
func (d *Dispatcher) performReset() {
	size := flash.ProbeSize(d.Dev)
	glog.Infof("factory reset: default config for %d bytes of flash", size)
	if err := d.Store.WriteDefault(size); err != nil {
		glog.Errorf("factory reset failed: %v", err)
	}
	d.Driver.Restart()
}
