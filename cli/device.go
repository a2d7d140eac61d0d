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
	"github.com/juju/errors"

	"github.com/rboot-os/rboot"
	"github.com/rboot-os/rboot/flash"
	"github.com/rboot-os/rboot/rtc"
)

const rtcWords = 64

// openCore opens the flash image named by --image and its sidecar RTC file
// and assembles the device core over them.
func openCore() (*rboot.Core, *flash.FileDevice, error) {
	dev, err := flash.OpenFileDevice(*imageFile)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	mem := rtc.NewFileRTC(*imageFile+".rtc", rtcWords)
	return rboot.New(dev, mem), dev, nil
}
