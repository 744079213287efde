package dfu

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ardnew/eptri/device"
	"github.com/ardnew/eptri/pkg"
)

// MaxTransferSize bounds wTransferSize by the control buffer of the stack.
const MaxTransferSize = 512

// Options are the functional descriptor fields.
type Options struct {
	// Attributes is bmAttributes. Zero selects download, upload,
	// manifestation tolerant and will-detach.
	Attributes uint8
	// DetachTimeout is wDetachTimeOut in milliseconds. Zero selects 1000.
	DetachTimeout uint16
	// TransferSize is wTransferSize. Zero selects 256.
	TransferSize uint16
}

func (o Options) withDefaults() Options {
	if o.Attributes == 0 {
		o.Attributes = AttrCanDownload | AttrCanUpload | AttrManifestationTolerant | AttrWillDetach
	}
	if o.DetachTimeout == 0 {
		o.DetachTimeout = 1000
	}
	if o.TransferSize == 0 {
		o.TransferSize = 256
	}
	return o
}

// Stats counts the class traffic.
type Stats struct {
	BlocksWritten uint64
	BlocksRead    uint64
	Manifests     uint64
	Errors        uint64
}

// DFU is a DFU-mode interface over a set of partitions, one per alternate
// setting.
type DFU struct {
	opts  Options
	parts []*Partition

	onManifest func(alt uint8, image []byte)
	onDetach   func()

	alt        uint8
	state      State
	status     Status
	block      uint16
	pending    []byte
	written    bool
	manifested bool
	stats      Stats

	buf  [MaxTransferSize]byte
	resp [MaxTransferSize]byte

	mutex sync.Mutex
}

// New returns a DFU interface in dfuIDLE on alternate setting 0. It panics
// without a partition or with a transfer size above MaxTransferSize.
func New(opts Options, parts ...*Partition) *DFU {
	opts = opts.withDefaults()
	if len(parts) == 0 || opts.TransferSize > MaxTransferSize {
		panic("dfu: need a partition and a transfer size within MaxTransferSize")
	}
	return &DFU{opts: opts, parts: parts, state: StateIdle}
}

// SetOnManifest sets the callback run when a downloaded image is
// manifested. Callbacks run inside the request and must not call back
// into d.
func (d *DFU) SetOnManifest(cb func(alt uint8, image []byte)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onManifest = cb
}

// SetOnDetach sets the callback run on DFU_DETACH.
func (d *DFU) SetOnDetach(cb func()) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onDetach = cb
}

// State returns the current state.
func (d *DFU) State() State {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.state
}

// Status returns the current status.
func (d *DFU) Status() Status {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.status
}

// Alternate returns the selected alternate setting.
func (d *DFU) Alternate() uint8 {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.alt
}

// Stats returns the traffic counters.
func (d *DFU) Stats() Stats {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.stats
}

// Partition returns the partition behind alternate setting alt, or nil.
func (d *DFU) Partition(alt uint8) *Partition {
	if int(alt) >= len(d.parts) {
		return nil
	}
	return d.parts[alt]
}

// Names returns the partition names in alternate setting order.
func (d *DFU) Names() []string {
	names := make([]string, len(d.parts))
	for i, p := range d.parts {
		names[i] = p.Name
	}
	return names
}

// FunctionalDescriptor returns the encoded DFU functional descriptor.
func (d *DFU) FunctionalDescriptor() []byte {
	b := make([]byte, FunctionalDescriptorSize)
	b[0], b[1], b[2] = FunctionalDescriptorSize, DescriptorTypeFunctional, d.opts.Attributes
	binary.LittleEndian.PutUint16(b[3:], d.opts.DetachTimeout)
	binary.LittleEndian.PutUint16(b[5:], d.opts.TransferSize)
	binary.LittleEndian.PutUint16(b[7:], 0x0110)
	return b
}

// Interfaces returns one interface descriptor per partition for interface
// number. Alternate setting i names itself with string firstString+i. The
// functional descriptor follows the last one.
func (d *DFU) Interfaces(number, firstString uint8) []device.InterfaceDescriptor {
	ifs := make([]device.InterfaceDescriptor, len(d.parts))
	for i := range d.parts {
		ifs[i] = device.InterfaceDescriptor{
			Number:           number,
			AlternateSetting: uint8(i),
			Class:            device.ClassApplicationSpecific,
			SubClass:         SubClassDFU,
			Protocol:         ProtocolDFU,
			StringIndex:      firstString + uint8(i),
		}
	}
	ifs[len(ifs)-1].Extra = d.FunctionalDescriptor()
	return ifs
}

// SetAlternate selects a partition and abandons any transfer in progress.
func (d *DFU) SetAlternate(alt uint8) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if int(alt) >= len(d.parts) {
		return fmt.Errorf("alternate setting %d: %w", alt, pkg.ErrInvalidParameter)
	}
	d.alt = alt
	d.idle()
	return nil
}

// Reset returns to dfuIDLE on alternate setting 0.
func (d *DFU) Reset() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.alt = 0
	d.idle()
}

func (d *DFU) idle() {
	d.state, d.status = StateIdle, StatusOK
	d.pending = nil
	d.written, d.manifested = false, false
}

// fail enters dfuERROR with status and returns the error that stalls the
// request.
func (d *DFU) fail(status Status, p device.SetupPacket) error {
	prev := d.state
	pkg.LogDebug(pkg.ComponentDFU, "request refused", "state", prev.String(), "status", status.String(), "packet", p.String())
	d.state, d.status = StateError, status
	d.pending = nil
	d.stats.Errors++
	return fmt.Errorf("dfu request 0x%02X in %s: %w", p.Request, prev, pkg.ErrInvalidRequest)
}

// HandleSetup answers the DFU class requests.
func (d *DFU) HandleSetup(p device.SetupPacket, data []byte) ([]byte, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	switch p.Request {
	case RequestDnload:
		if p.IsIn() {
			break
		}
		return nil, d.dnload(p, data)
	case RequestUpload:
		if !p.IsIn() {
			break
		}
		return d.upload(p)
	case RequestGetStatus:
		if !p.IsIn() {
			break
		}
		return d.getStatus(), nil
	case RequestGetState:
		if !p.IsIn() {
			break
		}
		d.resp[0] = uint8(d.state)
		return d.resp[:1], nil
	case RequestClrStatus:
		if d.state != StateError {
			break
		}
		d.idle()
		return nil, nil
	case RequestAbort:
		switch d.state {
		case StateIdle, StateDnloadSync, StateDnloadIdle, StateManifestSync, StateUploadIdle:
			d.idle()
			return nil, nil
		}
	case RequestDetach:
		pkg.LogInfo(pkg.ComponentDFU, "detach", "timeout", p.Value)
		if d.onDetach != nil {
			d.onDetach()
		}
		return nil, nil
	}
	return nil, d.fail(StatusErrStalledPkt, p)
}

func (d *DFU) dnload(p device.SetupPacket, data []byte) error {
	if d.opts.Attributes&AttrCanDownload == 0 || p.Length > d.opts.TransferSize {
		return d.fail(StatusErrStalledPkt, p)
	}
	switch {
	case p.Length == 0 && d.state == StateDnloadIdle:
		d.state, d.manifested = StateManifestSync, false
		return nil
	case p.Length > 0 && (d.state == StateIdle || d.state == StateDnloadIdle):
		d.block = p.Value
		d.pending = d.buf[:copy(d.buf[:], data)]
		d.state, d.written = StateDnloadSync, false
		return nil
	}
	return d.fail(StatusErrStalledPkt, p)
}

func (d *DFU) upload(p device.SetupPacket) ([]byte, error) {
	if d.opts.Attributes&AttrCanUpload == 0 || p.Length > d.opts.TransferSize ||
		(d.state != StateIdle && d.state != StateUploadIdle) {
		return nil, d.fail(StatusErrStalledPkt, p)
	}
	off := int(p.Value) * int(d.opts.TransferSize)
	n := d.parts[d.alt].read(off, d.resp[:p.Length])
	d.stats.BlocksRead++
	if n < int(p.Length) {
		d.state = StateIdle
	} else {
		d.state = StateUploadIdle
	}
	return d.resp[:n], nil
}

// getStatus advances the synchronous states. A block is written on the
// first GETSTATUS after it arrives, reported as dfuDNBUSY; the next one
// reports dfuDNLOAD-IDLE.
func (d *DFU) getStatus() []byte {
	state, poll := d.state, uint32(0)
	switch d.state {
	case StateDnloadSync:
		if d.written {
			d.state = StateDnloadIdle
			state = d.state
			break
		}
		part := d.parts[d.alt]
		if d.block == 0 {
			part.Erase()
		}
		if err := part.write(int(d.block)*int(d.opts.TransferSize), d.pending); err != nil {
			pkg.LogWarn(pkg.ComponentDFU, "download rejected", "block", d.block, "error", err)
			d.state, d.status = StateError, StatusErrAddress
			d.stats.Errors++
			state = d.state
			break
		}
		d.stats.BlocksWritten++
		d.written, d.pending = true, nil
		state, poll = StateDnBusy, part.PollTimeout
	case StateManifestSync:
		if d.manifested {
			d.state = StateIdle
			state = d.state
			break
		}
		d.manifested = true
		d.stats.Manifests++
		part := d.parts[d.alt]
		pkg.LogInfo(pkg.ComponentDFU, "manifest", "partition", part.Name, "bytes", part.length)
		if d.onManifest != nil {
			d.onManifest(d.alt, part.Image())
		}
		state = StateManifest
		if d.opts.Attributes&AttrManifestationTolerant == 0 {
			d.state, state = StateManifestWaitReset, StateManifestWaitReset
		}
	}
	b := d.resp[:StatusSize]
	b[0] = uint8(d.status)
	b[1], b[2], b[3] = uint8(poll), uint8(poll>>8), uint8(poll>>16)
	b[4] = uint8(state)
	b[5] = 0
	return b
}
