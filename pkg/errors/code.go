package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Authentication errors
// 12000-12999: Challenge & Task module errors
// 13000-13999: Statistics errors
// 16000-16999: Admin & Permission errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	CacheMiss  ErrorCode = 10201
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Authentication Errors (11000-11999) ==========

	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004

	// ========== Challenge & Task Module Errors (12000-12999) ==========

	// Challenge (12000-12099)
	ChallengeNotFound     ErrorCode = 12000
	ChallengeComplete     ErrorCode = 12001
	ChallengeInactive     ErrorCode = 12002
	ChallengeCreateFailed ErrorCode = 12003
	ChallengeDeleteFailed ErrorCode = 12004

	// Task (12100-12199)
	TaskNotFound     ErrorCode = 12100
	TaskConflict     ErrorCode = 12101
	NoTaskInArea     ErrorCode = 12102
	TaskUpsertFailed ErrorCode = 12103
	TaskDeleteFailed ErrorCode = 12104

	// Task payload (12200-12299)
	InvalidGeometry ErrorCode = 12200
	InvalidStatus   ErrorCode = 12201
	InvalidLocation ErrorCode = 12202

	// ========== Statistics Errors (13000-13999) ==========

	StatsQueryFailed ErrorCode = 13000
	InvalidTimeRange ErrorCode = 13001

	// ========== Admin & Permission Errors (16000-16999) ==========

	PermissionDenied     ErrorCode = 16000
	AdminOperationFailed ErrorCode = 16100
	SweepFailed          ErrorCode = 16101
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Cache
	CacheError: "Cache operation failed",
	CacheMiss:  "Cache miss",
	LockFailed: "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Authentication
	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	// Challenge
	ChallengeNotFound:     "Challenge not found",
	ChallengeComplete:     "Challenge has no more available tasks",
	ChallengeInactive:     "Challenge is not active",
	ChallengeCreateFailed: "Failed to save challenge",
	ChallengeDeleteFailed: "Failed to delete challenge",

	// Task
	TaskNotFound:     "Task not found",
	TaskConflict:     "Task was claimed concurrently, please retry",
	NoTaskInArea:     "No available task in the selected area",
	TaskUpsertFailed: "Failed to save task",
	TaskDeleteFailed: "Failed to delete task",

	// Task payload
	InvalidGeometry: "Invalid geometry",
	InvalidStatus:   "Invalid task status",
	InvalidLocation: "Invalid location",

	// Statistics
	StatsQueryFailed: "Failed to compute statistics",
	InvalidTimeRange: "Invalid time range",

	// Admin
	PermissionDenied:     "Permission denied",
	AdminOperationFailed: "Admin operation failed",
	SweepFailed:          "Expiration sweep failed",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden, c >= 16000 && c < 16100: // Permission errors
		return 403
	case c == NotFound, c == RecordNotFound, c == ChallengeNotFound, c == TaskNotFound, c == NoTaskInArea:
		return 404
	case c == TaskConflict, c == RecordAlreadyExists:
		return 409
	case c == ChallengeComplete:
		return 410
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable, c == ChallengeInactive:
		return 503
	case c == Timeout:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c >= 12200 && c < 12300, c == InvalidTimeRange:
		return 400
	case c == InvalidParams:
		return 400
	default:
		return 500
	}
}
