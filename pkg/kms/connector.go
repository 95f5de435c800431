package kms

import "unsafe"

// connectorCapability is what AddConnector/SetConnectors/UseMode need to
// validate a connector before staging it (§4.3): the union of every linked
// encoder's PossibleCrtcs bitmask, and the mode list the connector reports.
type connectorCapability struct {
	crtcMask uint32
	modes    []Mode
}

// loadConnectorCapability runs GETCONNECTOR (count-then-fill, same idiom as
// loadProperties) to get the connector's encoder ids and mode list, then one
// GETENCODER per encoder to OR their PossibleCrtcs masks together.
func loadConnectorCapability(d *Device, connectorID uint32) (connectorCapability, error) {
	var req drmModeGetConnector
	req.ConnectorID = connectorID
	if err := d.ioctl("get_connector", ioctlModeGetConnector, unsafe.Pointer(&req)); err != nil {
		return connectorCapability{}, err
	}
	if req.CountEncoders == 0 && req.CountModes == 0 {
		return connectorCapability{}, nil
	}

	encoders := make([]uint32, req.CountEncoders)
	modesRaw := make([]drmModeModeInfo, req.CountModes)
	if len(encoders) > 0 {
		req.EncodersPtr = uint64(uintptr(unsafe.Pointer(&encoders[0])))
	}
	if len(modesRaw) > 0 {
		req.ModesPtr = uint64(uintptr(unsafe.Pointer(&modesRaw[0])))
	}
	req.PropsPtr = 0
	req.PropValuesPtr = 0
	req.CountProps = 0
	if err := d.ioctl("get_connector", ioctlModeGetConnector, unsafe.Pointer(&req)); err != nil {
		return connectorCapability{}, err
	}

	var crtcMask uint32
	for _, encID := range encoders {
		var ereq drmModeGetEncoder
		ereq.EncoderID = encID
		if err := d.ioctl("get_encoder", ioctlModeGetEncoder, unsafe.Pointer(&ereq)); err != nil {
			return connectorCapability{}, err
		}
		crtcMask |= ereq.PossibleCrtcs
	}

	modes := make([]Mode, len(modesRaw))
	for i, m := range modesRaw {
		modes[i] = convertMode(m)
	}
	return connectorCapability{crtcMask: crtcMask, modes: modes}, nil
}

// compatibleWith reports whether any of the connector's encoders can drive
// the CRTC at crtcIndex.
func (c connectorCapability) compatibleWith(crtcIndex uint32) bool {
	return c.crtcMask&(1<<crtcIndex) != 0
}

// supportsMode reports whether m is one of the connector's advertised modes.
// A connector that reports no modes at all (some virtual/headless drivers)
// is treated as unconstrained rather than rejecting every mode outright.
func (c connectorCapability) supportsMode(m Mode) bool {
	if len(c.modes) == 0 {
		return true
	}
	for _, cm := range c.modes {
		if cm.Equal(m) {
			return true
		}
	}
	return false
}
