// Command eptri-sim builds a simulated eptri controller running the
// firmware driver, lets a simulated host enumerate it and exchange data
// with it, and prints what happened.
//
// Usage:
//
//	eptri-sim [options]
//
// Options:
//
//	-base addr       Register base address (default 0xE0000000)
//	-sync n          Synchronizer stages between the clock domains (default 2)
//	-latency n       System clocks per register access (default 2)
//	-sys-mhz f       System clock in MHz (default 60)
//	-usb-mhz f       USB clock in MHz (default 60)
//	-log-level lvl   DEBUG, INFO, WARN or ERROR (default WARN)
//	-log-format fmt  text or json (default text)
//	-regs            Print the register map and exit
//	-vid id          idVendor reported by the device (default 0x1209)
//	-pid id          idProduct reported by the device (default 0x0001)
//	-loop n          Bytes sent through the bulk loopback (default 100)
//	-dfu n           Bytes flashed through DFU and read back (default 0, off)
//	-dfu-alt n       DFU alternate setting to flash, 0 gateware 1 firmware
//
// The device carries a vendor loopback interface and a DFU interface with
// two in-memory flash partitions.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/eptri/device"
	"github.com/ardnew/eptri/device/class/dfu"
	"github.com/ardnew/eptri/driver"
	"github.com/ardnew/eptri/eptri"
	"github.com/ardnew/eptri/host"
	"github.com/ardnew/eptri/pkg"
)

// component identifies this executable for structured logging.
const component = pkg.ComponentSim

var (
	errLoopbackMismatch = errors.New("loopback data mismatch")
	errFlashMismatch    = errors.New("DFU readback mismatch")
)

type options struct {
	cfg     eptri.Config
	level   slog.Level
	format  pkg.LogFormat
	regs    bool
	vid     uint16
	pid     uint16
	loopLen int
	dfuLen  int
	dfuAlt  uint
}

func hexFlag(fs *flag.FlagSet, name, usage string, bits int, set func(uint64)) {
	fs.Func(name, usage, func(s string) error {
		v, err := strconv.ParseUint(s, 0, bits)
		if err != nil {
			return err
		}
		set(v)
		return nil
	})
}

func mhzFlag(fs *flag.FlagSet, name, usage string, dst *physic.Frequency) {
	fs.Func(name, usage, func(s string) error {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		if f <= 0 {
			return fmt.Errorf("%s MHz: %w", s, pkg.ErrInvalidParameter)
		}
		*dst = physic.Frequency(f * float64(physic.MegaHertz))
		return nil
	})
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{cfg: eptri.DefaultConfig(), level: slog.LevelWarn, vid: 0x1209, pid: 0x0001, loopLen: 100}
	fs := flag.NewFlagSet("eptri-sim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	hexFlag(fs, "base", "register base address", 32, func(v uint64) { o.cfg.BaseAddress = uint32(v) })
	fs.IntVar(&o.cfg.SyncStages, "sync", o.cfg.SyncStages, "synchronizer stages between the clock domains")
	fs.IntVar(&o.cfg.BusLatency, "latency", o.cfg.BusLatency, "system clocks per register access")
	mhzFlag(fs, "sys-mhz", "system clock in MHz", &o.cfg.SysClock)
	mhzFlag(fs, "usb-mhz", "USB clock in MHz", &o.cfg.USBClock)
	fs.TextVar(&o.level, "log-level", o.level, "minimum log level")
	fs.Func("log-format", "log format, text or json", func(s string) error {
		f, err := pkg.ParseLogFormat(s)
		o.format = f
		return err
	})
	fs.BoolVar(&o.regs, "regs", false, "print the register map and exit")
	hexFlag(fs, "vid", "idVendor reported by the device", 16, func(v uint64) { o.vid = uint16(v) })
	hexFlag(fs, "pid", "idProduct reported by the device", 16, func(v uint64) { o.pid = uint16(v) })
	fs.IntVar(&o.loopLen, "loop", o.loopLen, "bytes sent through the bulk loopback")
	fs.IntVar(&o.dfuLen, "dfu", 0, "bytes flashed through DFU and read back, 0 to skip")
	fs.UintVar(&o.dfuAlt, "dfu-alt", 0, "DFU alternate setting to flash")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q: %w", fs.Arg(0), pkg.ErrInvalidParameter)
	}
	if o.loopLen < 0 || o.loopLen > loopbackSize {
		return nil, fmt.Errorf("loop length %d: %w", o.loopLen, pkg.ErrInvalidParameter)
	}
	if o.dfuLen < 0 || o.dfuLen > partitionSize {
		return nil, fmt.Errorf("DFU length %d: %w", o.dfuLen, pkg.ErrInvalidParameter)
	}
	if o.dfuAlt >= uint(len(partitions)) {
		return nil, fmt.Errorf("DFU alternate setting %d: %w", o.dfuAlt, pkg.ErrInvalidParameter)
	}
	return o, o.cfg.Validate()
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			pkg.LogError(component, "simulation failed", "error", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	pkg.SetLogLevel(o.level)
	if o.format == pkg.LogFormatJSON {
		pkg.SetLogger(pkg.NewJSONLogger(stderr, nil))
	} else {
		pkg.SetLogger(pkg.NewLogger(stderr, nil))
	}
	pkg.LogDebug(component, "configured", "level", pkg.GetLogLevel(), "config", o.cfg)

	sim, err := eptri.New(o.cfg)
	if err != nil {
		return err
	}
	if o.regs {
		for _, r := range sim.AddressMap() {
			fmt.Fprintf(stdout, "0x%08X %-10s %-8s %s\n", r.Address, r.Peripheral, r.Name, r.Access)
		}
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	dev := newLoopbackDevice(sim, o.vid, o.pid)
	port := sim.HostPort()
	port.Plug()
	dev.drv.Init()
	dev.drv.Connect()
	port.Wait(32)

	h := host.New(port, host.Options{})
	pkg.LogInfo(component, "enumerating")
	d, err := h.Enumerate(ctx)
	if err != nil {
		return err
	}
	desc := d.Descriptor()
	fmt.Fprintf(stdout, "device %04X:%04X at address %d, %s\n", desc.VendorID, desc.ProductID, d.Address(), d.Speed())
	fmt.Fprintf(stdout, "  manufacturer %q product %q serial %q\n", d.Manufacturer(), d.Product(), d.Serial())
	cfg := d.Config()
	fmt.Fprintf(stdout, "  configuration %d, %d interface(s), controller state %s\n",
		d.Configuration(), cfg.NumInterfaces(), sim.DeviceState())

	payload := make([]byte, o.loopLen)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := h.BulkOut(ctx, d, loopbackOut, payload); err != nil {
		return err
	}
	// The device ends a transfer on a short packet or a full buffer.
	if len(payload) > 0 && len(payload)%loopbackPacket == 0 && len(payload) < loopbackSize {
		if _, err := h.BulkOut(ctx, d, loopbackOut, nil); err != nil {
			return err
		}
	}
	echo := make([]byte, len(payload))
	n, err := h.BulkIn(ctx, d, loopbackIn, echo)
	if err != nil {
		return err
	}
	if !bytes.Equal(payload, echo[:n]) {
		return fmt.Errorf("%w: sent %d bytes, got %d back", errLoopbackMismatch, len(payload), n)
	}
	fmt.Fprintf(stdout, "loopback: %d bytes echoed\n", n)

	if o.dfuLen > 0 {
		if err := flash(ctx, stdout, h, d, uint8(o.dfuAlt), o.dfuLen); err != nil {
			return err
		}
	}

	printStats(stdout, sim.Stats(), dev.drv.Stats(), h.Stats())
	return nil
}

// flash downloads a pattern of size bytes to DFU alternate setting alt and
// reads it back.
func flash(ctx context.Context, w io.Writer, h *host.Host, d *host.Device, alt uint8, size int) error {
	if err := h.SetInterface(ctx, d, dfuInterface, alt); err != nil {
		return err
	}
	image := make([]byte, size)
	for i := range image {
		image[i] = byte(i*31 + 7)
	}
	if err := h.DFUDownload(ctx, d, dfuInterface, image); err != nil {
		return err
	}
	back := make([]byte, partitionSize)
	n, err := h.DFUUpload(ctx, d, dfuInterface, back)
	if err != nil {
		return err
	}
	if !bytes.Equal(image, back[:n]) {
		return fmt.Errorf("%w: flashed %d bytes, read %d back", errFlashMismatch, size, n)
	}
	fmt.Fprintf(w, "dfu: %d bytes flashed to %q and verified\n", size, partitions[alt].name)
	return nil
}

func printStats(w io.Writer, s eptri.Stats, d driver.Stats, h host.Stats) {
	fmt.Fprintf(w, "clocks: sys %d usb %d\n", s.SysCycles, s.USBCycles)
	fmt.Fprintf(w, "bus: %d reads %d writes, %d misses %d undefined\n",
		s.BusReads, s.BusWrites, s.Decode.Misses, s.Decode.Undefined)
	fmt.Fprintf(w, "link: %d packets in %d out, %d NAKs %d stalls %d timeouts %d dropped\n",
		s.Link.PacketsIn, s.Link.PacketsOut, s.Link.NAKs, s.Link.Stalls, s.Link.Timeouts, s.Link.Dropped)
	fmt.Fprintf(w, "driver: %d interrupts %d resets %d setups %d IN %d OUT packets\n",
		d.Interrupts, d.Resets, d.Setups, d.InPackets, d.OutPackets)
	fmt.Fprintf(w, "host: %d transactions %d NAKs %d stalls %d timeouts\n",
		h.Transactions, h.NAKs, h.Stalls, h.Timeouts)
	for i, n := range h.Results {
		if n != 0 {
			fmt.Fprintf(w, "  %s: %d\n", pkg.TransferStatus(i), n)
		}
	}
}

const (
	dfuInterface   = 1
	partitionSize  = 64 << 10
	loopbackIn     = 0x81
	loopbackOut    = 0x01
	loopbackPacket = 64
	loopbackSize   = 512
)

// partitions are the DFU flash regions, one per alternate setting.
var partitions = []struct {
	name        string
	pollTimeout uint32
}{
	{"main-gateware @0x100000", 1},
	{"main-firmware @0x400000", 100},
}

// loopbackDevice is firmware that echoes what it receives on endpoint 1
// and takes updates through DFU on interface 1.
type loopbackDevice struct {
	drv   *driver.Driver
	stack *driver.Stack
	dfu   *dfu.DFU
	buf   [loopbackSize]byte
}

func newLoopbackDevice(sim *eptri.Sim, vid, pid uint16) *loopbackDevice {
	l := &loopbackDevice{drv: driver.New(sim, sim.Config().BaseAddress, nil)}
	var parts []*dfu.Partition
	for _, p := range partitions {
		parts = append(parts, dfu.NewPartition(p.name, partitionSize, p.pollTimeout))
	}
	l.dfu = dfu.New(dfu.Options{}, parts...)
	l.dfu.SetOnManifest(func(alt uint8, image []byte) {
		pkg.LogInfo(component, "image manifested", "partition", partitions[alt].name, "bytes", len(image))
	})
	l.stack = driver.NewStack(l.drv,
		device.DeviceDescriptor{
			USBVersion:        0x0200,
			MaxPacketSize0:    64,
			VendorID:          vid,
			ProductID:         pid,
			DeviceVersion:     0x0100,
			ManufacturerIndex: 1,
			ProductIndex:      2,
			SerialNumberIndex: 3,
			NumConfigurations: 1,
		},
		device.Configuration{
			Value:    1,
			MaxPower: 50,
			Interfaces: append([]device.InterfaceDescriptor{{
				Class: device.ClassVendor,
				Endpoints: []device.EndpointDescriptor{
					{Address: loopbackIn, Attributes: device.EndpointTypeBulk, MaxPacketSize: loopbackPacket},
					{Address: loopbackOut, Attributes: device.EndpointTypeBulk, MaxPacketSize: loopbackPacket},
				},
			}}, l.dfu.Interfaces(dfuInterface, 4)...),
		},
		append([]string{"eptri", "loopback", "0001"}, l.dfu.Names()...)...,
	)
	l.stack.Attach(dfuInterface, l.dfu)
	l.stack.OnConfigured = func(v uint8) {
		if v != 0 {
			l.receive()
		}
	}
	l.stack.OnTransfer = func(ep uint8, n int) {
		switch ep {
		case loopbackOut:
			if err := l.drv.Transfer(loopbackIn, l.buf[:n]); err != nil {
				pkg.LogWarn(component, "echo failed", "error", err)
			}
		case loopbackIn:
			l.receive()
		}
	}
	sim.SetInterruptHandler(l.drv.HandleInterrupt)
	return l
}

func (l *loopbackDevice) receive() {
	if err := l.drv.Transfer(loopbackOut, l.buf[:]); err != nil {
		pkg.LogWarn(component, "receive failed", "error", err)
	}
}
