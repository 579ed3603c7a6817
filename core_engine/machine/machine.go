// Package machine assembles the concrete chips in devices/ into one
// running system: it owns the device.SystemContext, constructs each
// configured device against it, maps every device's I/O ports and memory
// ranges onto the shared buses, and bridges the interrupt aggregator's
// line-level notifications to the external sinks.CPU collaborator.
//
// There is no persisted machine description here: Config is a plain Go
// value the caller builds in code, not a file format this package parses.
package machine

import (
	"github.com/v-architect/pcbus-core/core_engine/bus"
	"github.com/v-architect/pcbus-core/core_engine/device"
	"github.com/v-architect/pcbus-core/core_engine/devices/ac97"
	"github.com/v-architect/pcbus-core/core_engine/devices/crtc"
	"github.com/v-architect/pcbus-core/core_engine/devices/dp8390"
	"github.com/v-architect/pcbus-core/core_engine/devices/ide"
	"github.com/v-architect/pcbus-core/core_engine/devices/isapnp"
	"github.com/v-architect/pcbus-core/core_engine/devices/pas"
	"github.com/v-architect/pcbus-core/core_engine/devices/uart"
	"github.com/v-architect/pcbus-core/core_engine/errkind"
	"github.com/v-architect/pcbus-core/core_engine/sinks"
)

// Default ISA PIC vector offsets (ICW2): IRQ0-7 land on vectors
// MasterVectorBase..+7, IRQ8-15 on SlaveVectorBase..+7.
const (
	defaultMasterVectorBase uint8 = 0x08
	defaultSlaveVectorBase  uint8 = 0x70
)

// Config describes the devices to build and wire onto one machine. Every
// field is a Go value supplied by the caller; building a Config from a
// file or any other persisted form is outside this package.
type Config struct {
	CPU sinks.CPU

	MasterVectorBase uint8 // defaults to 0x08
	SlaveVectorBase  uint8 // defaults to 0x70

	UARTs []uart.Config

	IDEChannels []IDEChannelConfig

	CRTC    *crtc.Config
	Display sinks.DisplaySink
	Font    sinks.FontROM

	DP8390  *dp8390.Config
	Network sinks.NetworkSink

	ISAPnP *isapnp.Config

	AC97  *ac97.Config
	PAS   *pas.Config
	Audio sinks.AudioSink
}

// IDEChannelConfig pairs one IDE controller's register configuration with
// the disk store backing it.
type IDEChannelConfig struct {
	Config ide.Config
	Disk   sinks.DiskStore
}

// Machine owns the root SystemContext and every constructed device. It
// satisfies no interface of its own; callers drive it through Step/Close
// and reach into the typed fields (UARTs, IDE, CRTC, ...) for collaborator
// access a bus port can't express (e.g. CRTC.ReadVRAM for a debugger).
type Machine struct {
	Ctx *device.SystemContext

	devices []device.Device

	UARTs  []*uart.UART
	IDE    []*ide.Controller
	CRTC   *crtc.Controller
	DP8390 *dp8390.Controller
	ISAPnP *isapnp.SuperIO
	AC97   *ac97.Controller
	PAS    *pas.Controller

	cpu        sinks.CPU
	masterBase uint8
	slaveBase  uint8

	ioRanges []ioRange
}

type ioRange struct {
	start, end uint16
	owner      string
}

// Build constructs every device named in cfg, registers it on the shared
// I/O and memory buses, and wires the interrupt aggregator to cfg.CPU. It
// returns an errkind.Config error (and leaves nothing registered that
// could dangle) the moment two devices claim overlapping I/O ports.
func Build(cfg Config) (*Machine, error) {
	if cfg.CPU == nil {
		return nil, errkind.Configf("machine.Build", "cfg.CPU is required")
	}
	m := &Machine{
		Ctx:        device.NewSystemContext(),
		cpu:        cfg.CPU,
		masterBase: cfg.MasterVectorBase,
		slaveBase:  cfg.SlaveVectorBase,
	}
	if m.masterBase == 0 {
		m.masterBase = defaultMasterVectorBase
	}
	if m.slaveBase == 0 {
		m.slaveBase = defaultSlaveVectorBase
	}
	m.Ctx.IRQ.Notify = m.onIRQNotify

	if err := m.registerDMA(); err != nil {
		return nil, err
	}

	for _, uc := range cfg.UARTs {
		if err := m.addUART(uc); err != nil {
			return nil, err
		}
	}
	for _, ic := range cfg.IDEChannels {
		if err := m.addIDE(ic); err != nil {
			return nil, err
		}
	}
	if cfg.CRTC != nil {
		if err := m.addCRTC(*cfg.CRTC, cfg.Display, cfg.Font); err != nil {
			return nil, err
		}
	}
	if cfg.DP8390 != nil {
		if err := m.addDP8390(*cfg.DP8390, cfg.Network); err != nil {
			return nil, err
		}
	}
	if cfg.ISAPnP != nil {
		if err := m.addISAPnP(*cfg.ISAPnP); err != nil {
			return nil, err
		}
	}
	if cfg.AC97 != nil {
		if err := m.addAC97(*cfg.AC97, cfg.Audio); err != nil {
			return nil, err
		}
	}
	if cfg.PAS != nil {
		if err := m.addPAS(*cfg.PAS, cfg.Audio); err != nil {
			return nil, err
		}
	}

	for _, d := range m.devices {
		if err := d.Create(); err != nil {
			return nil, errkind.Configf("machine.Build", "%s: %w", d.Metadata().Name, err)
		}
	}
	return m, nil
}

// register maps dev onto [start, end] after checking it against every
// range already claimed, so two devices assigned the same I/O base
// produce an errkind.Config error at build time instead of one silently
// shadowing the other on the underlying bus.
func (m *Machine) register(start, end uint16, dev bus.PioDevice, name string) error {
	for _, r := range m.ioRanges {
		if start <= r.end && end >= r.start {
			return errkind.Configf("machine.Build", "%s I/O range [%#x,%#x] conflicts with %s [%#x,%#x]",
				name, start, end, r.owner, r.start, r.end)
		}
	}
	m.ioRanges = append(m.ioRanges, ioRange{start, end, name})
	m.Ctx.IOBus.RegisterDevice(start, end, dev)
	return nil
}

func (m *Machine) registerDMA() error {
	if err := m.register(0x00, 0x0F, m.Ctx.DMA, "dma-primary-channel"); err != nil {
		return err
	}
	if err := m.register(0x81, 0x8F, m.Ctx.DMA, "dma-page"); err != nil {
		return err
	}
	if err := m.register(0xC0, 0xDF, m.Ctx.DMA, "dma-secondary-channel"); err != nil {
		return err
	}
	return nil
}

func (m *Machine) addUART(cfg uart.Config) error {
	u := uart.New(cfg, m.Ctx.Sched, m.Ctx.IRQ)
	if err := m.register(cfg.BasePort, cfg.BasePort+7, u, "uart"); err != nil {
		return err
	}
	m.UARTs = append(m.UARTs, u)
	m.devices = append(m.devices, u)
	return nil
}

func (m *Machine) addIDE(icfg IDEChannelConfig) error {
	c := ide.New(icfg.Config, icfg.Disk, m.Ctx.Sched, m.Ctx.IRQ)
	if err := m.register(icfg.Config.BasePort, icfg.Config.BasePort+7, c, "ide"); err != nil {
		return err
	}
	if err := m.register(icfg.Config.CtrlPort, icfg.Config.CtrlPort, c, "ide-ctrl"); err != nil {
		return err
	}
	m.IDE = append(m.IDE, c)
	m.devices = append(m.devices, c)
	return nil
}

func (m *Machine) addCRTC(cfg crtc.Config, display sinks.DisplaySink, font sinks.FontROM) error {
	c := crtc.New(cfg, m.Ctx.Sched, m.Ctx.Clock, display, font)
	ports := [][2]uint16{
		{cfg.IndexPort, cfg.IndexPort}, {cfg.DataPort, cfg.DataPort},
		{cfg.ModePort, cfg.ModePort}, {cfg.ColorPort, cfg.ColorPort},
		{cfg.StatusPort, cfg.StatusPort},
	}
	for _, p := range ports {
		if p[0] == 0 && p[1] == 0 {
			continue
		}
		if err := m.register(p[0], p[1], c, "crtc"); err != nil {
			return err
		}
	}
	m.Ctx.MemBus.Install(cfg.VRAMBase, defaultVRAMSize, bus.Handlers{
		ReadByte:  c.ReadVRAM,
		WriteByte: c.WriteVRAM,
	})
	m.CRTC = c
	m.devices = append(m.devices, c)
	return nil
}

func (m *Machine) addDP8390(cfg dp8390.Config, net sinks.NetworkSink) error {
	c := dp8390.New(cfg, net, m.Ctx.IRQ)
	if err := m.register(cfg.BasePort, cfg.BasePort+0x1F, c, "dp8390"); err != nil {
		return err
	}
	m.DP8390 = c
	m.devices = append(m.devices, c)
	return nil
}

func (m *Machine) addISAPnP(cfg isapnp.Config) error {
	sio := isapnp.NewSuperIO(cfg, m.Ctx.IOBus)
	ctrl := sio.Controller()
	if err := m.register(cfg.AddressPort, cfg.AddressPort, ctrl, "isapnp-addr"); err != nil {
		return err
	}
	if err := m.register(cfg.WriteDataPort, cfg.WriteDataPort, ctrl, "isapnp-write"); err != nil {
		return err
	}
	if cfg.ReadPort != 0 {
		if err := m.register(cfg.ReadPort, cfg.ReadPort, ctrl, "isapnp-read"); err != nil {
			return err
		}
	}
	m.ISAPnP = sio
	m.devices = append(m.devices, ctrl)
	return nil
}

func (m *Machine) addAC97(cfg ac97.Config, audio sinks.AudioSink) error {
	c := ac97.New(cfg, m.Ctx.Sched, m.Ctx.MemBus, m.Ctx.IRQ, audio)
	if err := m.register(cfg.SGDPort, cfg.SGDPort+0xFF, c, "ac97-sgd"); err != nil {
		return err
	}
	if err := m.register(cfg.CodecPort, cfg.CodecPort+0xFF, c, "ac97-codec"); err != nil {
		return err
	}
	m.AC97 = c
	m.devices = append(m.devices, c)
	return nil
}

func (m *Machine) addPAS(cfg pas.Config, audio sinks.AudioSink) error {
	c := pas.New(cfg, m.Ctx.Sched, m.Ctx.MemBus, m.Ctx.IRQ, audio)
	if err := m.register(cfg.Base, cfg.Base+0x0F, c, "pas"); err != nil {
		return err
	}
	m.PAS = c
	m.devices = append(m.devices, c)
	return nil
}

// onIRQNotify forwards a rising-edge line assertion to the CPU collaborator
// as an interrupt vector, using the standard ISA PIC vector-offset
// convention (IRQ0-7 -> masterBase+line, IRQ8-15 -> slaveBase+(line-8)).
// Deassertions are not forwarded: the CPU sink models vector delivery, not
// the INTR wire level.
func (m *Machine) onIRQNotify(isaLine uint8, asserted bool) {
	if !asserted {
		return
	}
	var vector uint8
	if isaLine < 8 {
		vector = m.masterBase + isaLine
	} else {
		vector = m.slaveBase + (isaLine - 8)
	}
	m.cpu.InterruptNotify(vector)
}

// Step advances the machine by one CPU batch: it asks cfg.CPU how many
// cycles it consumed, advances the shared clock by that many virtual
// ticks, and lets the scheduler fire whatever fell due.
func (m *Machine) Step() {
	cycles := m.cpu.CyclesConsumed()
	if cycles <= 0 {
		return
	}
	m.Ctx.Clock.Advance(cycles)
	m.Ctx.Sched.Tick()
}

// Reset resets every constructed device.
func (m *Machine) Reset() {
	for _, d := range m.devices {
		d.Reset()
	}
}

// Close releases every constructed device's resources. Safe to call more
// than once.
func (m *Machine) Close() {
	for _, d := range m.devices {
		d.Close()
	}
}

// defaultVRAMSize covers the 64 KiB CGA-family display memory window; the
// CRTC's own ReadVRAM/WriteVRAM bounds-check against its internal array
// regardless of how much of this window the guest actually addresses.
const defaultVRAMSize = 0x10000
