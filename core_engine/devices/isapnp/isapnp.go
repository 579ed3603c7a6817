// Package isapnp implements the ISAPnP Super-I/O shell (§4.9): a single
// PnP card with up to eight logical devices, unlocked by the standard
// 32-byte key stream, whose I/O-base/IRQ/DMA/activate writes route each
// logical device to its peer chip on the shared I/O bus.
package isapnp

import (
	"sync"

	"github.com/v-architect/pcbus-core/core_engine/bus"
	"github.com/v-architect/pcbus-core/core_engine/device"
)

// LogicalDeviceConfig is one logical device's current resource assignment.
type LogicalDeviceConfig struct {
	IOBase   uint16
	IRQ      uint8
	DMA      uint8
	Activate bool
}

// Config describes the card's relocatable ports and collaborator hooks.
type Config struct {
	AddressPort       uint16 // fixed at 0x279 on real hardware
	WriteDataPort     uint16 // fixed at 0xA79 on real hardware
	ReadPort          uint16 // relocatable, assigned out of band here
	NumLogicalDevices int
	// OnConfigChanged fires whenever a logical device's activate, I/O
	// base, IRQ, or DMA register is written.
	OnConfigChanged func(ldn int, cfg LogicalDeviceConfig)
	// VendorRegister handles the 0x20-0x2f/0xf0-0xff/0x60-0x7f pass-through
	// ranges; ldn is -1 for the global (0x20-0x2f) range.
	VendorRegister func(index int, ldn int, write bool, val byte) byte
}

// Controller is one ISAPnP card's configuration-space state machine.
type Controller struct {
	lock sync.Mutex

	cfg Config

	unlocked    bool
	keyPos      int
	selectedCSN byte
	currentLDN  byte
	currentIdx  byte

	devices [maxLogicalDevices]LogicalDeviceConfig

	Debug bool
}

// New builds a Controller in the locked (wait-for-key) state.
func New(cfg Config) *Controller {
	if cfg.NumLogicalDevices == 0 || cfg.NumLogicalDevices > maxLogicalDevices {
		cfg.NumLogicalDevices = maxLogicalDevices
	}
	return &Controller{cfg: cfg}
}

func (c *Controller) Metadata() device.Metadata {
	return device.Metadata{Name: "isapnp", Version: "super-io"}
}

func (c *Controller) Create() error { return nil }
func (c *Controller) Tick()         {}
func (c *Controller) Close()        {}

func (c *Controller) Reset() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.unlocked = false
	c.keyPos = 0
	c.selectedCSN = 0
	c.currentLDN = 0
	c.currentIdx = 0
	c.devices = [maxLogicalDevices]LogicalDeviceConfig{}
}

// HandleIO dispatches the address/write-data/read ports.
func (c *Controller) HandleIO(port uint16, direction uint8, size uint8, data []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	switch port {
	case c.cfg.AddressPort:
		if direction == bus.DirectionOut {
			c.addressWriteLocked(data[0])
		}
	case c.cfg.WriteDataPort:
		if direction == bus.DirectionOut && c.unlocked {
			c.writeRegLocked(int(c.currentIdx), data[0])
		}
	case c.cfg.ReadPort:
		if direction == bus.DirectionIn {
			if c.unlocked {
				data[0] = c.readRegLocked(int(c.currentIdx))
			} else {
				data[0] = 0xFF
			}
		}
	}
	return nil
}

// addressWriteLocked advances the key-stream matcher until unlocked, after
// which address-port writes simply select the next register index.
func (c *Controller) addressWriteLocked(val byte) {
	if c.unlocked {
		c.currentIdx = val
		return
	}
	if val == initKey[c.keyPos] {
		c.keyPos++
		if c.keyPos == len(initKey) {
			c.unlocked = true
			c.keyPos = 0
		}
		return
	}
	if val == initKey[0] {
		c.keyPos = 1
	} else {
		c.keyPos = 0
	}
}

func (c *Controller) writeRegLocked(idx int, val byte) {
	switch {
	case idx == RegCSN:
		c.selectedCSN = val
	case idx == RegLDN:
		if int(val) < c.cfg.NumLogicalDevices {
			c.currentLDN = val
		}
	case isVendorRegister(idx):
		if c.cfg.VendorRegister != nil {
			ldn := -1
			if idx >= VendorPerLDNLo || (idx >= VendorGPIOLo && idx <= VendorGPIOHi) {
				ldn = int(c.currentLDN)
			}
			c.cfg.VendorRegister(idx, ldn, true, val)
		}
	default:
		ldn := c.currentLDN
		dev := &c.devices[ldn]
		switch idx {
		case RegActivate:
			dev.Activate = val&0x01 != 0
		case RegIOBaseHi:
			dev.IOBase = (dev.IOBase & 0x00FF) | uint16(val)<<8
		case RegIOBaseLo:
			dev.IOBase = (dev.IOBase & 0xFF00) | uint16(val)
		case RegIRQSelect:
			dev.IRQ = val
		case RegDMASelect:
			dev.DMA = val
		default:
			return
		}
		if c.cfg.OnConfigChanged != nil {
			c.cfg.OnConfigChanged(int(ldn), *dev)
		}
	}
}

func (c *Controller) readRegLocked(idx int) byte {
	switch {
	case idx == RegCSN:
		return c.selectedCSN
	case idx == RegLDN:
		return c.currentLDN
	case isVendorRegister(idx):
		if c.cfg.VendorRegister != nil {
			ldn := -1
			if idx >= VendorPerLDNLo || (idx >= VendorGPIOLo && idx <= VendorGPIOHi) {
				ldn = int(c.currentLDN)
			}
			return c.cfg.VendorRegister(idx, ldn, false, 0)
		}
		return 0
	default:
		dev := c.devices[c.currentLDN]
		switch idx {
		case RegActivate:
			if dev.Activate {
				return 1
			}
			return 0
		case RegIOBaseHi:
			return byte(dev.IOBase >> 8)
		case RegIOBaseLo:
			return byte(dev.IOBase)
		case RegIRQSelect:
			return dev.IRQ
		case RegDMASelect:
			return dev.DMA
		}
		return 0
	}
}

// Peer is one Super-I/O peripheral a logical device can be routed to.
type Peer struct {
	Kind   PeerKind
	Device bus.PioDevice
	Width  uint16
}

// SuperIO wraps a Controller and maps/unmaps each logical device's peer
// onto the shared I/O bus as its activate/I/O-base registers change.
type SuperIO struct {
	lock  sync.Mutex
	ctrl  *Controller
	ioBus *bus.IOBus
	peers [maxLogicalDevices]*Peer
	mapped [maxLogicalDevices]bool
	base  [maxLogicalDevices]uint16
}

// NewSuperIO builds a Controller wired to call back into sio on every
// logical-device configuration change.
func NewSuperIO(cfg Config, ioBus *bus.IOBus) *SuperIO {
	sio := &SuperIO{ioBus: ioBus}
	cfg.OnConfigChanged = sio.onConfigChanged
	sio.ctrl = New(cfg)
	return sio
}

func (s *SuperIO) Controller() *Controller { return s.ctrl }

// AttachPeer assigns the device that logical device ldn routes to.
func (s *SuperIO) AttachPeer(ldn int, p *Peer) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.peers[ldn] = p
}

func (s *SuperIO) onConfigChanged(ldn int, cfg LogicalDeviceConfig) {
	s.lock.Lock()
	defer s.lock.Unlock()
	peer := s.peers[ldn]
	if peer == nil {
		return
	}
	if s.mapped[ldn] {
		s.ioBus.RemoveDevice(peer.Device)
		s.mapped[ldn] = false
	}
	if cfg.Activate && cfg.IOBase != 0 {
		width := peer.Width
		if width == 0 {
			width = 1
		}
		s.ioBus.RegisterDevice(cfg.IOBase, cfg.IOBase+width-1, peer.Device)
		s.mapped[ldn] = true
		s.base[ldn] = cfg.IOBase
	}
}
