package sshwait

// Direction describes which transport readiness an engine operation is
// waiting on. Values combine as a bitmask.
type Direction int

const (
	// DirNone indicates no pending direction.
	DirNone Direction = 0
	// DirInbound waits for the transport to become readable.
	DirInbound Direction = 1 << 0
	// DirOutbound waits for the transport to become writable.
	DirOutbound Direction = 1 << 1
	// DirBoth waits for either direction.
	DirBoth Direction = DirInbound | DirOutbound
)

func (d Direction) String() string {
	switch d {
	case DirInbound:
		return "inbound"
	case DirOutbound:
		return "outbound"
	case DirBoth:
		return "both"
	case DirNone:
		return "none"
	default:
		return "none"
	}
}
