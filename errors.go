package dpnetpeer

import "github.com/dpnetpeer/dpnetpeer/errs"

// ErrorKind and Error are re-exported from the internal errs package so
// that public API signatures read as dpnetpeer.Error/dpnetpeer.ErrorKind
// while packet/sendqueue/iopool/hostenum/address can report the same
// typed errors without importing the root package.
type ErrorKind = errs.ErrorKind

type Error = errs.Error

const (
	KindGeneric                = errs.KindGeneric
	KindInvalidParam           = errs.KindInvalidParam
	KindNotInitialised         = errs.KindNotInitialised
	KindAlreadyConnected       = errs.KindAlreadyConnected
	KindNotHost                = errs.KindNotHost
	KindNoConnection           = errs.KindNoConnection
	KindBufferTooSmall         = errs.KindBufferTooSmall
	KindDoesNotExist           = errs.KindDoesNotExist
	KindHostRejectedConnection = errs.KindHostRejectedConnection
	KindInvalidApplication     = errs.KindInvalidApplication
	KindInvalidPassword        = errs.KindInvalidPassword
	KindConnectionLost         = errs.KindConnectionLost
	KindTimedOut               = errs.KindTimedOut
	KindUserCancel             = errs.KindUserCancel
	KindNotImplemented         = errs.KindNotImplemented
)

var (
	newErr  = errs.New
	wrapErr = errs.Wrap
)

// KindOf returns the Kind of err if it is (or wraps) an *Error, and
// KindGeneric otherwise.
func KindOf(err error) ErrorKind {
	return errs.KindOf(err)
}
