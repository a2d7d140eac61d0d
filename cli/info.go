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
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/juju/errors"

	"github.com/rboot-os/rboot/cli/ourutil"
	"github.com/rboot-os/rboot/flash"
)

func info() error {
	core, dev, err := openCore()
	if err != nil {
		return errors.Trace(err)
	}
	cfg, err := core.Store.Load()
	if err != nil {
		return errors.Trace(err)
	}

	ourutil.Reportf("Flash size: %d (probed %d)", dev.Size(), flash.ProbeSize(dev))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "SLOT\tADDRESS\t\n")
	for i := uint8(0); i < cfg.SlotCount; i++ {
		mark := ""
		if i == cfg.CurrentSlot {
			mark = color.GreenString("current")
		}
		fmt.Fprintf(w, "%d\t0x%x\t%s\n", i, cfg.Slots[i], mark)
	}
	w.Flush()
	return nil
}

func selectSlot() error {
	core, _, err := openCore()
	if err != nil {
		return errors.Trace(err)
	}
	if *slotFlag < 0 || *slotFlag > 255 {
		return errors.Errorf("invalid slot %d", *slotFlag)
	}
	if err := core.SelectSlot(uint8(*slotFlag)); err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("Slot %d selected", *slotFlag)
	return nil
}

func factoryReset() error {
	core, _, err := openCore()
	if err != nil {
		return errors.Trace(err)
	}
	if err := core.RequestFactoryReset(!*disarm); err != nil {
		return errors.Trace(err)
	}
	if *disarm {
		ourutil.Reportf("Factory reset disarmed")
	} else {
		ourutil.Reportf("Factory reset armed, takes effect on next boot")
	}
	return nil
}
