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

// Package ota implements the staged firmware update engine: a single
// in-flight session that streams bytes into an unused slot, erasing ahead
// of the write cursor, verifies the result and commits the boot
// configuration to the new slot only when everything succeeded.
package ota

import (
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/rboot-os/rboot/bootcfg"
	"github.com/rboot-os/rboot/flash"
)

// State of an update session. Terminal sessions (Complete, Error) must be
// discarded; continuing requires a fresh Begin.
type State int

const (
	StateReady State = iota
	StateStarted
	StateWriting
	StateVerifying
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateStarted:
		return "started"
	case StateWriting:
		return "writing"
	case StateVerifying:
		return "verifying"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

const (
	// bufferSize is the staging buffer, one erase sector so erase and write
	// granularity stay aligned.
	bufferSize = flash.SectorSize

	// DefaultTimeout is the suggested overall update timeout. The engine
	// itself does not enforce it: a caller wanting timeout behavior tracks
	// elapsed time and calls Cancel.
	DefaultTimeout = 5 * time.Minute
)

var (
	ErrInvalidArgs       = errors.New("invalid arguments")
	ErrInvalidState      = errors.New("invalid session state")
	ErrAlreadyInProgress = errors.New("update already in progress")
	ErrVerifyFailed      = errors.New("image verification failed")
)

// Updater hands out update sessions, at most one live at a time.
type Updater struct {
	dev   flash.Device
	store *bootcfg.Store

	mtx    sync.Mutex
	active *Session
}

// NewUpdater creates an updater over the given flash device and boot
// configuration store.
func NewUpdater(dev flash.Device, store *bootcfg.Store) *Updater {
	return &Updater{dev: dev, store: store}
}

// Session is one staged update attempt. It is owned by the caller that
// began it and is driven by a single execution context; the engine does no
// internal locking beyond the Updater's active-session slot.
type Session struct {
	u *Updater

	targetSlot uint8
	targetAddr uint32
	totalSize  uint32
	written    uint32
	state      State

	// erasedThrough is the last sector already erased this session; the
	// erase-ahead in Write never goes back over it.
	erasedThrough int

	buf []byte
}

// Begin starts an update targeting the given slot, which must not be the
// one currently booted from if the caller wants a fallback (not enforced
// here). The slot is resolved against the freshly loaded boot config.
// maxSize bounds the total number of bytes the session will accept and is
// the denominator for progress reporting; it must fit within the slot's
// capacity, so a conforming stream can never reach the neighboring slot.
//
// The first sector of the target slot is erased here, so the erase-ahead
// policy in Write never writes into a non-erased sector.
func (u *Updater) Begin(targetSlot uint8, maxSize uint32) (*Session, error) {
	if maxSize == 0 {
		return nil, errors.Annotatef(ErrInvalidArgs, "maxSize must be positive")
	}
	cfg, err := u.store.Load()
	if err != nil {
		return nil, errors.Annotatef(err, "failed to load boot config")
	}
	addr, err := cfg.SlotAddress(targetSlot)
	if err != nil {
		return nil, errors.Annotatef(ErrInvalidArgs, "slot %d, have %d", targetSlot, cfg.SlotCount)
	}
	room, err := slotCapacity(cfg, addr, u.dev.Size())
	if err != nil {
		return nil, errors.Trace(err)
	}
	if maxSize > room {
		return nil, errors.Annotatef(ErrInvalidArgs,
			"maxSize %d exceeds slot %d capacity %d", maxSize, targetSlot, room)
	}

	u.mtx.Lock()
	if u.active != nil {
		u.mtx.Unlock()
		return nil, errors.Trace(ErrAlreadyInProgress)
	}
	s := &Session{
		u:             u,
		targetSlot:    targetSlot,
		targetAddr:    addr,
		totalSize:     maxSize,
		state:         StateStarted,
		erasedThrough: flash.SectorOf(addr),
		buf:           make([]byte, bufferSize),
	}
	u.active = s
	u.mtx.Unlock()

	if err := u.dev.EraseSector(flash.SectorOf(addr)); err != nil {
		s.fail()
		return nil, errors.Annotatef(err, "failed to erase first sector of slot %d", targetSlot)
	}

	glog.Infof("update started: slot %d @ 0x%x, up to %d bytes", targetSlot, addr, maxSize)
	return s, nil
}

// slotCapacity is the room an image at addr has before it would run into
// the next slot or off the end of the device. A session is never allowed to
// write past it: overrunning the neighboring slot would destroy the one
// image the device can still boot from.
func slotCapacity(cfg *bootcfg.Config, addr uint32, devSize int) (uint32, error) {
	if int(addr) >= devSize {
		return 0, errors.Annotatef(ErrInvalidArgs, "slot address 0x%x is outside flash (size %d)",
			addr, devSize)
	}
	room := uint32(devSize) - addr
	for i := uint8(0); i < cfg.SlotCount; i++ {
		if a := cfg.Slots[i]; a > addr && a-addr < room {
			room = a - addr
		}
	}
	return room, nil
}

// InProgress reports whether a session is currently live.
func (u *Updater) InProgress() bool {
	u.mtx.Lock()
	defer u.mtx.Unlock()
	return u.active != nil
}

// release clears the active-session slot if s still holds it.
func (u *Updater) release(s *Session) {
	u.mtx.Lock()
	if u.active == s {
		u.active = nil
	}
	u.mtx.Unlock()
}

// fail moves the session to the terminal Error state and releases it.
func (s *Session) fail() {
	s.state = StateError
	s.u.release(s)
}

// Write appends data to the image. Bytes must arrive in image order; there
// is no reordering or random access. Data is staged through the session
// buffer and written one buffer-sized (or smaller, final) chunk at a time.
// Whenever the write cursor crosses into a new sector, that sector is
// erased before anything is written to it.
func (s *Session) Write(data []byte) error {
	if s.state != StateStarted && s.state != StateWriting {
		return errors.Annotatef(ErrInvalidState, "write in state %s", s.state)
	}
	if len(data) == 0 {
		return errors.Annotatef(ErrInvalidArgs, "empty write")
	}
	if s.written+uint32(len(data)) > s.totalSize {
		return errors.Annotatef(ErrInvalidArgs, "write of %d bytes exceeds declared size %d",
			len(data), s.totalSize)
	}
	s.state = StateWriting

	for len(data) > 0 {
		n := len(data)
		if n > len(s.buf) {
			n = len(s.buf)
		}
		copy(s.buf, data[:n])

		// Erase ahead: if this chunk reaches into a sector the session has
		// not erased yet, erase it before writing. Each sector is erased
		// at most once per session.
		start := s.targetAddr + s.written
		end := start + uint32(n) - 1
		for sec := s.erasedThrough + 1; sec <= flash.SectorOf(end); sec++ {
			if err := s.u.dev.EraseSector(sec); err != nil {
				s.fail()
				return errors.Annotatef(err, "failed to erase sector %d", sec)
			}
			s.erasedThrough = sec
		}
		if err := s.u.dev.Write(start, s.buf[:n]); err != nil {
			s.fail()
			return errors.Annotatef(err, "failed to write %d @ 0x%x", n, start)
		}
		s.written += uint32(n)
		data = data[n:]
		glog.V(1).Infof("wrote %d, %d total", n, s.written)
	}
	return nil
}

// End verifies the written image and, on success, commits the boot
// configuration to the target slot. On verification failure the boot
// configuration is left untouched and the old image remains bootable.
func (s *Session) End() error {
	if s.state != StateWriting {
		return errors.Annotatef(ErrInvalidState, "end in state %s", s.state)
	}
	s.state = StateVerifying

	if err := s.verify(); err != nil {
		s.fail()
		return errors.Trace(err)
	}
	if err := s.u.store.SelectSlot(s.targetSlot); err != nil {
		s.fail()
		return errors.Annotatef(err, "failed to commit slot %d", s.targetSlot)
	}
	s.state = StateComplete
	s.u.release(s)
	glog.Infof("update complete: slot %d, %d bytes", s.targetSlot, s.written)
	return nil
}

// verify is a presence check, not an integrity guarantee: the first byte of
// the written image must carry the executable-image marker. Callers wanting
// stronger guarantees layer checksums before calling End.
func (s *Session) verify() error {
	var hdr [1]byte
	if err := s.u.dev.Read(s.targetAddr, hdr[:]); err != nil {
		return errors.Annotatef(err, "failed to read image header")
	}
	if hdr[0] != flash.ImageMagicByte {
		return errors.Annotatef(ErrVerifyFailed, "image magic 0x%02x, want 0x%02x",
			hdr[0], flash.ImageMagicByte)
	}
	return nil
}

// Cancel abandons the session from any non-terminal state. Safe to call
// repeatedly. No flash side effects: the partially written slot is left
// as-is, but it is not the boot target so it poses no boot risk.
func (s *Session) Cancel() {
	if s.state == StateComplete {
		return
	}
	if s.state != StateError {
		glog.Infof("update cancelled in state %s", s.state)
	}
	s.fail()
}

// Status returns the session state and progress percentage. Pure read.
func (s *Session) Status() (State, int) {
	pct := 0
	if s.totalSize > 0 {
		pct = int(uint64(s.written) * 100 / uint64(s.totalSize))
	}
	return s.state, pct
}
