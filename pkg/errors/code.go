package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 12000-12999: Maze & Session errors
// 13000-13099: Submission & Validation errors
// 13100-13199: Sandbox & Grading errors

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

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	CacheMiss  ErrorCode = 10201

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Storage errors (10400-10499)
	StorageError ErrorCode = 10400

	// ========== Maze & Session Errors (12000-12999) ==========

	// Maze definitions (12000-12099)
	MazeNotFound ErrorCode = 12000
	MazeInvalid  ErrorCode = 12001
	MazeInactive ErrorCode = 12002

	// Sessions (12100-12199)
	MazeSessionNotFound  ErrorCode = 12100
	MazeSessionCompleted ErrorCode = 12101
	MazeInvalidDirection ErrorCode = 12102
	MazeSessionForbidden ErrorCode = 12103

	// ========== Submission & Validation Errors (13000-13099) ==========

	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	CodeTooLarge           ErrorCode = 13002
	CodeValidationFailed   ErrorCode = 13003
	SubmitTooFrequently    ErrorCode = 13004
	SubmissionFinalized    ErrorCode = 13005

	// ========== Sandbox & Grading Errors (13100-13199) ==========

	GradingQueueClosed    ErrorCode = 13100
	SandboxSystemError    ErrorCode = 13101
	ExecutionTimeout      ErrorCode = 13102
	ResourceLimitExceeded ErrorCode = 13103
	ExecutionFailed       ErrorCode = 13104
	MazeNotCompleted      ErrorCode = 13105
	CodeArtifactMissing   ErrorCode = 13106
	SandboxLimitsInvalid  ErrorCode = 13107
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

	// Cache
	CacheError: "Cache operation failed",
	CacheMiss:  "Cache miss",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Storage
	StorageError: "Object storage operation failed",

	// Maze
	MazeNotFound: "Maze not found",
	MazeInvalid:  "Maze definition is invalid",
	MazeInactive: "Maze is not active",

	// Sessions
	MazeSessionNotFound:  "Session not found",
	MazeSessionCompleted: "Session already completed",
	MazeInvalidDirection: "Invalid direction",
	MazeSessionForbidden: "Not authorized to access this session",

	// Submission
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	CodeTooLarge:           "Code exceeds maximum length of 100,000 characters",
	CodeValidationFailed:   "Code validation failed",
	SubmitTooFrequently:    "Submitting too frequently, please wait",
	SubmissionFinalized:    "Submission already finalized",

	// Grading
	GradingQueueClosed:    "Grading queue is closed",
	SandboxSystemError:    "Sandbox system error",
	ExecutionTimeout:      "Execution timed out",
	ResourceLimitExceeded: "Execution terminated by resource limit",
	ExecutionFailed:       "Execution failed",
	MazeNotCompleted:      "Maze not completed",
	CodeArtifactMissing:   "Code file not found",
	SandboxLimitsInvalid:  "Sandbox limits are incomplete",
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
	case c == Unauthorized:
		return 401
	case c == Forbidden, c == MazeSessionForbidden:
		return 403
	case c == NotFound, c == MazeNotFound, c == MazeSessionNotFound, c == SubmissionNotFound:
		return 404
	case c == SubmissionFinalized:
		return 409
	case c == TooManyRequests, c == SubmitTooFrequently:
		return 429
	case c == ServiceUnavailable, c == GradingQueueClosed:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == MazeInvalid, c == MazeInactive, c == MazeSessionCompleted, c == MazeInvalidDirection:
		return 400
	case c == CodeTooLarge, c == CodeValidationFailed:
		return 422
	default:
		return 500
	}
}
