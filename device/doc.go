// Package device holds the USB protocol types shared by the firmware driver,
// the simulated host and the controller model: SETUP packets and the
// standard request builders, descriptors, and the device state and speed
// enumerations.
//
// Encoding follows the zero-allocation pattern used throughout the module:
// MarshalTo writes into a caller buffer and Parse functions fill an output
// parameter.
package device
