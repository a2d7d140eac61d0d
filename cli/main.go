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

// rbsim is a host-side simulator for the rboot core: it runs the boot
// configuration store, the OTA engine and the boot dispatcher against a
// flash image file instead of a real chip.
package main

import (
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/rboot-os/rboot/version"
)

var (
	imageFile = flag.String("image", "flash.img", "Flash image file to operate on")
	flashSize = flag.Int("flash-size", 0x100000, "Flash size in bytes for provisioning")
	slotFlag  = flag.Int("slot", 1, "Target slot index")
	layout    = flag.String("layout", "", "YAML slot layout file for provisioning")
	chunkSize = flag.Int("chunk-size", 512, "OTA write chunk size")
	disarm    = flag.Bool("disarm", false, "Clear a pending factory reset instead of arming one")

	versionFlag = flag.Bool("version", false, "Print version and exit")
)

var commands = []command{
	{"provision", provision, `Create a flash image with a default or YAML-described slot layout`, []string{"image"}, []string{"flash-size", "layout"}},
	{"info", info, `Print the boot configuration record`, []string{"image"}, []string{}},
	{"select", selectSlot, `Select the boot slot`, []string{"image", "slot"}, []string{}},
	{"ota", otaWrite, `Stream a firmware file into a slot through the OTA engine`, []string{"image", "slot"}, []string{"chunk-size"}},
	{"factory-reset", factoryReset, `Arm a factory reset for the next boot`, []string{"image"}, []string{"disarm"}},
	{"boot", bootDevice, `Simulate one boot of the device`, []string{"image"}, []string{}},
}

type command struct {
	name     string
	handler  handler
	short    string
	required []string
	optional []string
}

type handler func() error

func run() error {
	if flag.NArg() < 1 {
		usage()
		return nil
	}
	for _, c := range commands {
		if c.name == flag.Arg(0) {
			return errors.Trace(c.handler())
		}
	}
	usage()
	return errors.Errorf("unknown command %q", flag.Arg(0))
}

func main() {
	initFlags()
	flag.Parse()

	if *versionFlag {
		fmt.Printf("rbsim %s (%s)\n", version.Version, version.BuildId)
		return
	}

	if err := run(); err != nil {
		glog.Infof("Error: %+v", err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
