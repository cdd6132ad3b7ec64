// Package common contains shared constants and the error taxonomy used across
// the directory engine, its transport and its storage.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the sign-in
// token on outbound pipeline calls.
const AccessTokenHeaderName = "access_token"

// StateOK is the transport-level state code of a delivered response.
const StateOK = 1000

// Application-level codes carried in a response payload.
const (
	WireOk               = 0
	WireInvalidParameter = 5
	WireFailure          = 9
	WireInvalidDomain    = 11
	WireNotAllowed       = 12
	WireNotFound         = 14
	WireIllegalOperation = 17
)
