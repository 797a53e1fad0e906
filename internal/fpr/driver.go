package fpr

// Driver is the link-layer contract FPR consumes. It is
// implemented by a radio driver, or by the loopback/UDP-broadcast reference
// transports in internal/transport for testing and non-radio links.
type Driver interface {
	// RegisterPeer tells the link layer to start accepting frames
	// addressed to mac (e.g. adding a MAC filter entry).
	RegisterPeer(mac MAC) error
	// UnregisterPeer reverses RegisterPeer.
	UnregisterPeer(mac MAC) error
	// Send transmits data to mac and reports success/failure synchronously.
	// A later completion callback, if the driver has one, is advisory only.
	Send(mac MAC, data []byte) error
	// RegisterRecvCallback installs the function invoked for every frame
	// the link layer delivers.
	RegisterRecvCallback(fn RecvFunc)
	// RegisterSendCallback installs the function invoked when an
	// asynchronous send completion is available. May be left unset.
	RegisterSendCallback(fn SendFunc)
}

// RecvFunc is invoked by the Driver for every received frame.
type RecvFunc func(src, dst MAC, rssi int8, data []byte)

// SendFunc is invoked by the Driver to report an asynchronous send
// completion.
type SendFunc func(mac MAC, ok bool)
