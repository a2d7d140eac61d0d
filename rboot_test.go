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
package rboot

import (
	"testing"

	"github.com/rboot-os/rboot/flash"
	"github.com/rboot-os/rboot/rtc"
)

// TestFullUpdateCycle drives the runtime surface end to end: provision,
// staged update into the spare slot, commit, and a factory reset request
// left pending for the next boot.
func TestFullUpdateCycle(t *testing.T) {
	const flashSize = 0x100000
	dev := flash.NewMemDevice(flashSize)
	mem := rtc.NewMemRTC(64)
	c := New(dev, mem)

	if err := c.Store.WriteDefault(flashSize); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	if slot, err := c.CurrentSlot(); err != nil || slot != 0 {
		t.Fatalf("CurrentSlot: %d, %v", slot, err)
	}
	if c.OTAInProgress() {
		t.Fatalf("fresh core reports an update in progress")
	}

	img := make([]byte, 8192)
	img[0] = flash.ImageMagicByte
	for i := 1; i < len(img); i++ {
		img[i] = byte(i * 7)
	}

	s, err := c.BeginOTA(1, uint32(len(img)))
	if err != nil {
		t.Fatalf("BeginOTA: %v", err)
	}
	if !c.OTAInProgress() {
		t.Errorf("OTAInProgress: got false during session")
	}
	for off := 0; off < len(img); off += 1500 {
		end := off + 1500
		if end > len(img) {
			end = len(img)
		}
		if err := s.Write(img[off:end]); err != nil {
			t.Fatalf("Write @ %d: %v", off, err)
		}
	}
	if err := s.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	if slot, err := c.CurrentSlot(); err != nil || slot != 1 {
		t.Errorf("CurrentSlot after update: %d, %v; want 1", slot, err)
	}
	if c.OTAInProgress() {
		t.Errorf("OTAInProgress: got true after End")
	}

	if err := c.RequestFactoryReset(true); err != nil {
		t.Fatalf("RequestFactoryReset: %v", err)
	}
	pending, err := c.Latch.ConsumeIfSet()
	if err != nil {
		t.Fatalf("ConsumeIfSet: %v", err)
	}
	if !pending {
		t.Errorf("factory reset request did not stick")
	}
}
