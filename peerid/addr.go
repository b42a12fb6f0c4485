package peerid

// TextAddr is a net.Addr backed by a plain "host:port" string, the way
// the wire protocol encodes a SocketAddress: as its textual form. It lets
// a PeerNode decoded off the wire be dialed with net.Dial("tcp",
// addr.String()) without forcing a synchronous DNS resolution at decode
// time.
type TextAddr string

// Network always reports "tcp": this engine only ever talks TCP.
func (a TextAddr) Network() string { return "tcp" }

// String returns the "host:port" form.
func (a TextAddr) String() string { return string(a) }
