package server

import "github.com/dotside-studios/warehouse-agent/buildinfo"

// mDNS service discovery constants
var (
	MDNSServiceType = "_warehouse-agent._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// Error codes sent in error responses
const (
	CodeParseError      = "PARSE_ERROR"
	CodeUnknownType     = "UNKNOWN_TYPE"
	CodeInvalidPayload  = "INVALID_PAYLOAD"
	CodeNotFound        = "NOT_FOUND"
	CodeNoMatch         = "NO_MATCH"
	CodeTaskPaused      = "TASK_PAUSED"
	CodeTaskCompleted   = "TASK_COMPLETED"
	CodeSyncDisabled    = "SYNC_DISABLED"
	CodeSyncInProgress  = "SYNC_IN_PROGRESS"
	CodeUnavailable     = "UNAVAILABLE"
	CodeInternal        = "INTERNAL"
	CodeSessionClaimed  = "SESSION_CLAIMED"
	CodeInvalidSecret   = "INVALID_SECRET"
)

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, POST, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization"
)

// DeviceModeHeader marks a device-mode connection when set to "true".
const DeviceModeHeader = "X-Device-Mode"
