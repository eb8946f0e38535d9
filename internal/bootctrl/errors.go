// Package bootctrl implements the boot-control record: the bit-packed
// A/B slot metadata persisted in the misc partition's bootloader_message
// slot_suffix field.
package bootctrl

import "errors"

// Sentinel error kinds shared across every component of the boot
// controller. Wrap with fmt.Errorf("%w: ...") at the call site so
// errors.Is keeps working through the chain.
var (
	ErrIoError         = errors.New("bootctrl: block i/o failed")
	ErrNotFound        = errors.New("bootctrl: partition not found")
	ErrNoDevice        = errors.New("bootctrl: block device inaccessible")
	ErrInvalid         = errors.New("bootctrl: invalid image or header")
	ErrOutOfMemory     = errors.New("bootctrl: allocation too large")
	ErrInvalidArgument = errors.New("bootctrl: invalid argument")
)
