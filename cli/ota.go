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
	"io/ioutil"
	"os"
	"time"

	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/rboot-os/rboot/cli/ourutil"
)

func otaWrite() error {
	args := flag.Args()
	if len(args) != 2 {
		return errors.Errorf("firmware file is required")
	}
	fwFilename := args[1]
	var data []byte
	var err error
	if fwFilename == "-" {
		data, err = ioutil.ReadAll(os.Stdin)
	} else {
		data, err = ioutil.ReadFile(fwFilename)
	}
	if err != nil {
		return errors.Annotatef(err, "failed to read %s", fwFilename)
	}
	if len(data) == 0 {
		return errors.Errorf("%s is empty", fwFilename)
	}

	core, _, err := openCore()
	if err != nil {
		return errors.Trace(err)
	}

	ourutil.Reportf("Starting an update (slot %d, %d bytes)...", *slotFlag, len(data))
	s, err := core.BeginOTA(uint8(*slotFlag), uint32(len(data)))
	if err != nil {
		return errors.Annotatef(err, "unable to start an update")
	}

	total := 0
	lastReport := time.Now()
	for total < len(data) {
		n := *chunkSize
		if total+n > len(data) {
			n = len(data) - total
		}
		if err := s.Write(data[total : total+n]); err != nil {
			s.Cancel()
			return errors.Annotatef(err, "write failed at offset %d", total)
		}
		total += n
		if _, pct := s.Status(); time.Since(lastReport) > 5*time.Second || total == len(data) {
			ourutil.Reportf("  %d of %d (%d%%)", total, len(data), pct)
			lastReport = time.Now()
		}
	}

	ourutil.Reportf("Finalizing update...")
	if err := s.End(); err != nil {
		return errors.Annotatef(err, "update failed")
	}
	ourutil.Reportf("Update applied, slot %d is now the boot target", *slotFlag)
	return nil
}
