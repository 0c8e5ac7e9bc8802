package xerrors

// Module is the coded-error module name used by every package in this
// repository, so a caller on the other side of the replicator boundary can
// reconstruct the error from its (module, code) pair alone.
const Module = "galera"

// The codes below mirror the errno-style taxonomy in spec §6/§7.
var (
	ErrInterrupted    = New(Module, 1, ClassTransient, "operation interrupted")
	ErrAgain          = New(Module, 2, ClassTransient, "temporary failure, try again")
	ErrNotConnected   = New(Module, 3, ClassFatal, "not in primary component")
	ErrConnAborted    = New(Module, 4, ClassFatal, "connection aborted")
	ErrBadFileHandle  = New(Module, 5, ClassFatal, "uninitialized handle")
	ErrTimedOut       = New(Module, 6, ClassTransient, "operation timed out")
	ErrProtocol       = New(Module, 7, ClassProtocol, "protocol error")
	ErrNoDonor        = New(Module, 8, ClassTransient, "no state transfer donor available")
	ErrDonorUnreach   = New(Module, 9, ClassTransient, "state transfer donor unreachable")
	ErrDonorIsJoiner  = New(Module, 10, ClassTransient, "donor and joiner are the same node")
	ErrCertFailed     = New(Module, 11, ClassVerdict, "certification failed")
	ErrDuplicateKey   = New(Module, 12, ClassProtocol, "duplicate key part")
	ErrIndexCorrupt   = New(Module, 13, ClassFatal, "certification index corrupt")
	ErrCRCMismatch    = New(Module, 14, ClassFatal, "checksum mismatch on trusted buffer")
	ErrEncryptFailure = New(Module, 15, ClassFatal, "encryption callback failed")
	ErrRestart        = New(Module, 16, ClassProtocol, "local action aborted, restart required")
	ErrOutOfMemory    = New(Module, 17, ClassTransient, "allocation failed")
)
