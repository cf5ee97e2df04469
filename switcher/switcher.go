// SPDX-License-Identifier: MIT

// Package switcher implements the switch controller (C7): it tracks
// combo-key state across the event stream and rotates which target
// currently owns the input stream, emitting synthetic release/press
// events so no combo key is left logically held on the side that just
// lost focus.
package switcher

import (
	"fmt"
	"sort"
	"sync"

	"github.com/evan-goode/evkvm/logger"
	"github.com/evan-goode/evkvm/wire"
)

// Target is anything the controller can route a message to: the local
// writer manager, or one connected peer's outbound sender.
type Target interface {
	Send(wire.Message) error
}

// Switcher owns the current-target state machine. AddClient and
// RemoveClient are called from each accepted peer's own connection
// goroutine (server.Server.handle) while Handle is called from the
// capture-dispatch goroutine; mutex guards current, clients, and
// keyStates against that concurrent access.
type Switcher struct {
	mutex sync.Mutex

	comboKeys []uint16
	keyStates map[uint16]bool

	current int // 0 = local, i = clients[i-1]
	local   Target
	clients []Target

	log *logger.Logger
}

// New constructs a controller for the given combo key set (keyboard
// codes; duplicates are ignored) routing to local when current == 0.
func New(comboKeys []uint16, local Target, log *logger.Logger) *Switcher {
	sorted := append([]uint16(nil), comboKeys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	keyStates := make(map[uint16]bool, len(sorted))
	unique := sorted[:0]
	for _, k := range sorted {
		if _, seen := keyStates[k]; seen {
			continue
		}
		keyStates[k] = false
		unique = append(unique, k)
	}

	return &Switcher{
		comboKeys: unique,
		keyStates: keyStates,
		local:     local,
		log:       log,
	}
}

// AddClient appends a newly connected peer target, sends it one
// NewDevice message per device snapshot returns, and returns its
// 1-based client index (current == that index routes to it).
//
// snapshot is captured and drained to t while holding the same lock
// broadcast and route take: a NewDevice or RemoveDevice for a device
// table change racing with connection setup can only be ordered either
// entirely before this onboarding (and so already reflected in
// snapshot) or entirely after it (and so delivered as an ordinary
// broadcast once this call returns) — never interleaved, which would
// otherwise let a stale NewDevice for an already-removed device reach
// the peer after its RemoveDevice and leak a virtual device on the
// other end.
func (s *Switcher) AddClient(t Target, snapshot func() []wire.Device) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.clients = append(s.clients, t)
	index := len(s.clients)

	for _, device := range snapshot() {
		if err := t.Send(wire.NewDeviceMessage(device)); err != nil {
			s.log.Verbosef("switcher: onboarding send failed: %v", err)
			break
		}
	}
	return index
}

// RemoveClient drops the client at the given 1-based index. If it was
// the current target, current resets to local (0); later indices shift
// down by one, matching the slice removal.
func (s *Switcher) RemoveClient(index int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.removeClientLocked(index)
}

func (s *Switcher) removeClientLocked(index int) {
	if index < 1 || index > len(s.clients) {
		return
	}
	s.clients = append(s.clients[:index-1], s.clients[index:]...)
	if s.current == index {
		s.current = 0
	} else if s.current > index {
		s.current--
	}
}

// Handle processes one message from the reader manager. NewDevice and
// RemoveDevice are fanned out to local and every connected client so
// every target's writer manager stays current even while it is not the
// active one; Event messages are combo-checked and routed per the
// current-target rule; KeepAlive never originates here and is ignored.
//
// A non-nil return is always a failed write to the local target: per
// spec.md §7, loss of local input injection is catastrophic and fatal to
// the session, unlike a failed write to a remote peer, which only
// degrades to local fallback. The caller must treat a non-nil return the
// same way it treats the reader manager itself failing.
func (s *Switcher) Handle(msg wire.Message) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	switch msg.Kind {
	case wire.MessageNewDevice, wire.MessageRemoveDevice:
		return s.broadcast(msg)
	case wire.MessageEvent:
		return s.handleEvent(msg.Event)
	}
	return nil
}

func (s *Switcher) broadcast(msg wire.Message) error {
	var err error
	if sendErr := s.local.Send(msg); sendErr != nil {
		err = fmt.Errorf("switcher: local broadcast failed: %w", sendErr)
	}
	for _, c := range s.clients {
		if sendErr := c.Send(msg); sendErr != nil {
			s.log.Verbosef("switcher: peer broadcast failed: %v", sendErr)
		}
	}
	return err
}

func (s *Switcher) handleEvent(e wire.FramedEvent) error {
	if code, ok := e.Input.IsKeyCode(wire.CodeKey); ok {
		if _, isCombo := s.keyStates[code]; isCombo {
			s.keyStates[code] = e.Input.Direction == wire.Down
			if s.allDown() {
				return s.transition()
			}
			return nil
		}
	}
	return s.route(wire.EventMessage(e))
}

func (s *Switcher) allDown() bool {
	for _, k := range s.comboKeys {
		if !s.keyStates[k] {
			return false
		}
	}
	return len(s.comboKeys) > 0
}

// transition rotates current to (current+1) mod (len(clients)+1) and
// emits, for every combo key in sorted order, a synthetic Up to the old
// target followed by a synthetic Down to the new target. A failed
// delivery to the old or new target is fatal only when that target is
// local (target == 0); a failed delivery to a remote peer is ignored
// here outright, per sendTo's doc comment.
func (s *Switcher) transition() error {
	old := s.current
	s.current = (s.current + 1) % (len(s.clients) + 1)

	for _, k := range s.comboKeys {
		up := wire.EventMessage(wire.FramedEvent{
			Input: wire.KeyEvent(wire.Up, wire.CodeKey, k),
			Syn:   true,
		})
		if err := s.sendTo(old, up); err != nil {
			return err
		}

		down := wire.EventMessage(wire.FramedEvent{
			Input: wire.KeyEvent(wire.Down, wire.CodeKey, k),
			Syn:   true,
		})
		if err := s.sendTo(s.current, down); err != nil {
			return err
		}
	}
	return nil
}

// route sends msg to the current target, falling back to local and
// removing the client on send failure, per the C7 failure rule. A
// failed local send — whether as the current target or as the fallback
// after a peer's queue closed — is fatal per spec.md §7.
func (s *Switcher) route(msg wire.Message) error {
	if s.current == 0 {
		if err := s.local.Send(msg); err != nil {
			return fmt.Errorf("switcher: local send failed: %w", err)
		}
		return nil
	}
	target := s.clients[s.current-1]
	if err := target.Send(msg); err != nil {
		s.log.Verbosef("switcher: peer send queue closed, falling back to local: %v", err)
		s.removeClientLocked(s.current)
		if err := s.local.Send(msg); err != nil {
			return fmt.Errorf("switcher: local fallback send failed: %w", err)
		}
	}
	return nil
}

// sendTo is used only for the combo-transition synthetic events. A
// failed delivery to the local target is fatal, matching route; a
// failed delivery to a remote peer is ignored outright (the peer is
// cleaned up on its next ordinary send failure, not here).
func (s *Switcher) sendTo(target int, msg wire.Message) error {
	if target == 0 {
		if err := s.local.Send(msg); err != nil {
			return fmt.Errorf("switcher: local transition send failed: %w", err)
		}
		return nil
	}
	if target-1 >= len(s.clients) {
		return nil
	}
	if err := s.clients[target-1].Send(msg); err != nil {
		s.log.Verbosef("switcher: peer transition send failed: %v", err)
	}
	return nil
}
