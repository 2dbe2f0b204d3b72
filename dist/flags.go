package dist

// Distribution capability flags, sent as a bitmask during the
// handshake's SEND_NAME step. The engine targets the "R6" baseline
// spec.md §9 names: long atoms, extended references, new fun tag,
// UTF-8 atoms, map tag. Flags beyond that (fragmented sends,
// bit-binaries in distribution) are defined here but never set
// locally, and the handshake does not inspect them in a peer's flag
// word: the only check on a peer's flags is requiredOfPeer.
const (
	FlagPublished            uint64 = 0x1
	FlagAtomCache            uint64 = 0x2
	FlagExtendedReferences   uint64 = 0x4
	FlagDistMonitor          uint64 = 0x8
	FlagFunTags              uint64 = 0x10
	FlagNewFunTags           uint64 = 0x80
	FlagExtendedPidsPorts    uint64 = 0x100
	FlagUTF8Atoms            uint64 = 0x10000
	FlagMapTag               uint64 = 0x20000
	FlagBigCreation          uint64 = 0x40000
	FlagFragmentedSend       uint64 = 0x800000
	FlagBitBinaries          uint64 = 0x2000
)

// BaselineFlags is what this engine advertises. Peers are only
// required to advertise the subset in requiredOfPeer.
const BaselineFlags = FlagExtendedReferences | FlagExtendedPidsPorts |
	FlagNewFunTags | FlagUTF8Atoms | FlagMapTag | FlagBigCreation

// requiredOfPeer are the flags a peer must advertise for the engine to
// accept the connection; without extended references/pids the
// classic-width wire formats would silently truncate ids we generate
// as full 32-bit values.
const requiredOfPeer = FlagExtendedReferences | FlagExtendedPidsPorts
