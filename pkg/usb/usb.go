// Package usb validates host USB port identifiers and describes the
// enumeration contract the instance configuration model depends on,
// grounded on
// original_source/flecs_core_cxx_bridge/src/usb.rs's UsbDevice/
// UsbDeviceReader boundary. Actual host enumeration (sysfs/libusb) is an
// external collaborator per spec §1 and is not implemented here; only
// the Device value shape and the validation regex live in this package.
package usb

import (
	"fmt"
	"regexp"
)

// portPattern matches either a root hub ("usb<n>") or a dotted sysfs bus
// path ("<bus>-<port>[.<port>]*").
var portPattern = regexp.MustCompile(`^usb[1-9][0-9]*|[1-9][0-9]*-[1-9][0-9]*(?:\.[1-9][0-9]*)*$`)

// ValidPort reports whether s is a syntactically valid UsbPort identifier.
func ValidPort(s string) bool {
	return portPattern.MatchString(s)
}

// ValidatePort returns an error describing why s is not a valid UsbPort,
// or nil if it is.
func ValidatePort(s string) error {
	if !ValidPort(s) {
		return fmt.Errorf("invalid usb port %q: expected a root hub (usbN) or dotted bus path", s)
	}
	return nil
}

// Device is a host USB device as reported by the enumeration backend.
type Device struct {
	VendorID  uint16
	ProductID uint16
	Port      string
	Name      string
	Vendor    string
}

// DeviceReader enumerates host USB devices keyed by port. Implementations
// are backed by host-OS specific enumeration (sysfs, libusb) that is out
// of scope for this module; it is declared here only as the seam the
// instance configuration model's passthrough validation reads through.
type DeviceReader interface {
	ReadDevices() (map[string]Device, error)
}
