package platform

import "github.com/cuemby/usbthief/internal/copytask"

// AttributeIO reads and writes Windows DOS file attributes. It
// implements internal/copytask.AttributeIO.
type AttributeIO struct{}

// NewAttributeIO constructs an AttributeIO.
func NewAttributeIO() AttributeIO { return AttributeIO{} }

// Read returns path's current DOS attribute bits.
func (AttributeIO) Read(path string) (copytask.Attributes, error) {
	return readAttributes(path)
}

// Write sets path's DOS attribute bits to attrs.
func (AttributeIO) Write(path string, attrs copytask.Attributes) error {
	return writeAttributes(path, attrs)
}
