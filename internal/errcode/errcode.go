package errcode

// Error kind convention:
// - 0: no error
// - 4xxx: caller-facing, recoverable (fix the request / top up / re-auth)
// - 5xxx: system or collaborator failure (the request cannot proceed)
const (
	OK                  = 0
	Unauthorized        = 4001
	InsufficientCredits = 4002
	ValidationFailed    = 4003
	NotFound            = 4004
	Conflict            = 4009
	SystemError         = 5000
	DelegationFailed    = 5002
)
