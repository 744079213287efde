// Package dfu implements a DFU 1.1 interface in DFU mode for the driver
// stack, backed by in-memory flash partitions.
//
// Each partition is one alternate setting. A host selects it with
// SET_INTERFACE, then downloads an image in blocks of wTransferSize with
// DFU_DNLOAD, polling DFU_GETSTATUS after each block. A zero-length
// DFU_DNLOAD ends the download and the following DFU_GETSTATUS requests
// manifest the image. DFU_UPLOAD reads the stored image back.
//
//	fw := dfu.New(dfu.Options{},
//		dfu.NewPartition("main-gateware @0x100000", 64<<10, 1),
//		dfu.NewPartition("main-firmware @0x400000", 64<<10, 100))
//	cfg.Interfaces = fw.Interfaces(0, 4)
//	stack.Attach(0, fw)
//
// Requests the current state does not allow stall and leave the interface
// in dfuERROR with errSTALLEDPKT until DFU_CLRSTATUS. A block that falls
// outside its partition is reported as errADDRESS.
package dfu
