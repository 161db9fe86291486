// Package core provides the domain logic of the portal: the authentication
// state container, CSV import and header validation, and audio preview staging.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When users encounter errors, they can quote the error code to support staff
// for faster diagnosis.
//
// Error codes are grouped by category:
//
// # Authentication Errors (AUTH001-AUTH099)
//
//	AUTH001 - Invalid credentials: Email or password is incorrect
//	          Action: Check your email and password and try again
//	          Patterns: "invalid credentials", "invalid_password", "email_not_found",
//	                    "invalid_login_credentials"
//
//	AUTH002 - Email in use: An account with this email already exists
//	          Action: Sign in instead, or use a different email
//	          Patterns: "email already in use", "email_exists"
//
//	AUTH003 - In progress: Another auth request is still running
//	          Action: Wait for the current request to finish
//	          Patterns: "already in progress"
//
//	AUTH004 - Busy: The sign-in service is handling too many requests
//	          Action: Please wait a moment and try again
//	          Patterns: "too many auth requests"
//
//	AUTH005 - Unknown provider: The sign-in provider is not supported
//	          Action: Use Google, Facebook or email sign-in
//	          Patterns: "unknown identity provider", "oauth provider not configured"
//
//	AUTH006 - Weak password: The password was rejected by the identity backend
//	          Action: Use a password of at least 8 characters
//	          Patterns: "weak_password", "password must be"
//
//	AUTH007 - Invalid email: The email address was rejected
//	          Action: Check the email address for typos
//	          Patterns: "invalid_email", "malformed email"
//
//	AUTH008 - OAuth failure: The provider did not complete sign-in
//	          Action: Try signing in again
//	          Patterns: "oauth state mismatch", "authorization failed", "token exchange failed"
//
// # Profile and Session Errors (PROF001, SES001)
//
//	PROF001 - Profile not found: No profile document exists for this account
//	          Action: Contact support if this persists
//	          Patterns: "profile not found"
//
//	SES001 - Session expired: The browser session is unknown or expired
//	         Action: Reload the page and sign in again
//	         Patterns: "session not found"
//
// # Form Errors (VAL001-VAL099)
//
//	VAL001 - Required: One or more required fields are empty
//	         Action: Fill in every field
//	         Patterns: "all fields are required"
//
//	VAL002 - Invalid form: Some fields are not valid
//	         Action: Correct the highlighted fields
//	         Patterns: "form validation failed"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - CSV too large: File exceeds the 200KB import guideline
//	          Action: Smaller files import faster
//	          Patterns: "file too large for import"
//
//	FILE002 - Invalid CSV: File is not a valid CSV
//	          Action: Ensure file is comma-separated
//	          Patterns: "invalid csv"
//
//	FILE003 - Encoding error: File contains invalid characters
//	          Action: Save file as UTF-8 encoding
//	          Patterns: "encoding error"
//
//	FILE004 - No file: No file was selected
//	          Action: Please select a file to upload
//	          Patterns: "no file provided"
//
//	FILE005 - Request too large: The upload exceeds the server limit
//	          Action: Upload fewer or smaller files
//	          Patterns: "request body too large"
//
// # CSV Errors (CSV001-CSV099)
//
//	CSV001 - Invalid headers: Required CSV headers are missing
//	         Action: Include S NO, File Name, Duration and Size (KB)
//	         Patterns: "csv headers are not valid"
//
// # Audio Errors (AUD001-AUD099)
//
//	AUD001 - Too big: An audio file exceeds the 3MB preview limit
//	         Action: Choose files smaller than 3MB
//	         Patterns: "audio file too big"
//
//	AUD002 - Unsupported: The file is not an mp3 or wav file
//	         Action: Choose mp3 or wav files
//	         Patterns: "unsupported audio"
//
//	AUD003 - Gone: The preview was released
//	         Action: Select the file again
//	         Patterns: "preview not found"
//
//	AUD004 - Bad control: The playback action is not known
//	         Action: Use play, pause, stop or loop
//	         Patterns: "unknown playback action"
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Request cancelled
//	         Patterns: "context canceled"
//
//	REQ002 - Request timeout
//	         Patterns: "context deadline exceeded", "timeout"
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Rate limited: Too many requests
//	          Action: Please wait a moment before trying again
//	          Patterns: "rate limit"
//
// # Request Forgery (SEC001)
//
//	SEC001 - Form expired: The CSRF token or referer check failed
//	         Action: Reload the page and submit it again
//	         Patterns: "csrf", "referer"
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Please try again or contact support
//
// # Pattern Matching
//
// Error patterns are matched case-insensitively using strings.Contains.
// The first matching pattern wins, so more specific patterns should be
// defined before general ones.
package core

import "strings"

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgInvalidCredentials = UserMessage{
		Message: MsgInvalidCreds,
		Action:  "Check your email and password and try again",
		Code:    "AUTH001",
	}
	msgEmailInUse = UserMessage{
		Message: "Email is already registered",
		Action:  "Sign in instead, or use a different email",
		Code:    "AUTH002",
	}
	msgOAuthFailed = UserMessage{
		Message: "Sign-in with the provider did not complete",
		Action:  "Try signing in again",
		Code:    "AUTH008",
	}
	msgProviderUnsupported = UserMessage{
		Message: "This sign-in provider is not supported",
		Action:  "Use Google, Facebook or email sign-in",
		Code:    "AUTH005",
	}
	msgTimeout = UserMessage{
		Message: "Request timed out",
		Action:  "Please try again",
		Code:    "REQ002",
	}
)

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// The first matching pattern wins, so order matters.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Authentication (AUTH001-AUTH008)
	// =========================================================================
	{pattern: "invalid credentials", msg: msgInvalidCredentials},
	{pattern: "invalid_password", msg: msgInvalidCredentials},
	{pattern: "email_not_found", msg: msgInvalidCredentials},
	{pattern: "invalid_login_credentials", msg: msgInvalidCredentials},
	{pattern: "email already in use", msg: msgEmailInUse},
	{pattern: "email_exists", msg: msgEmailInUse},
	{
		pattern: "already in progress",
		msg: UserMessage{
			Message: MsgAuthInProgress,
			Action:  "Wait for the current request to finish",
			Code:    "AUTH003",
		},
	},
	{
		pattern: "too many auth requests",
		msg: UserMessage{
			Message: "The sign-in service is busy",
			Action:  "Please wait a moment and try again",
			Code:    "AUTH004",
		},
	},
	{pattern: "unknown identity provider", msg: msgProviderUnsupported},
	{pattern: "oauth provider not configured", msg: msgProviderUnsupported},
	{
		pattern: "weak_password",
		msg: UserMessage{
			Message: "Password is too weak",
			Action:  "Use a password of at least 8 characters",
			Code:    "AUTH006",
		},
	},
	{
		pattern: "password must be",
		msg: UserMessage{
			Message: "Password is too weak",
			Action:  "Use a password of at least 8 characters",
			Code:    "AUTH006",
		},
	},
	{
		pattern: "invalid_email",
		msg: UserMessage{
			Message: "Email address is not valid",
			Action:  "Check the email address for typos",
			Code:    "AUTH007",
		},
	},
	{
		pattern: "malformed email",
		msg: UserMessage{
			Message: "Email address is not valid",
			Action:  "Check the email address for typos",
			Code:    "AUTH007",
		},
	},
	{pattern: "oauth state mismatch", msg: msgOAuthFailed},
	{pattern: "authorization failed", msg: msgOAuthFailed},
	{pattern: "token exchange failed", msg: msgOAuthFailed},

	// =========================================================================
	// Profile and session (PROF001, SES001)
	// =========================================================================
	{
		pattern: "profile not found",
		msg: UserMessage{
			Message: MsgProfileFailed,
			Action:  "Contact support if this persists",
			Code:    "PROF001",
		},
	},
	{
		pattern: "session not found",
		msg: UserMessage{
			Message: "Your session has expired",
			Action:  "Reload the page and sign in again",
			Code:    "SES001",
		},
	},

	// =========================================================================
	// Forms (VAL001-VAL002)
	// =========================================================================
	{
		pattern: "all fields are required",
		msg: UserMessage{
			Message: MsgAllFieldsRequired,
			Action:  "Fill in every field",
			Code:    "VAL001",
		},
	},
	{
		pattern: "form validation failed",
		msg: UserMessage{
			Message: "Some fields are not valid",
			Action:  "Correct the highlighted fields",
			Code:    "VAL002",
		},
	},

	// =========================================================================
	// Audio (AUD001-AUD004)
	// Listed before the generic file patterns.
	// =========================================================================
	{
		pattern: "audio file too big",
		msg: UserMessage{
			Message: MsgAudioTooBig,
			Action:  "Choose files smaller than 3MB",
			Code:    "AUD001",
		},
	},
	{
		pattern: "unsupported audio",
		msg: UserMessage{
			Message: MsgUnsupportedAudio,
			Action:  "Choose mp3 or wav files",
			Code:    "AUD002",
		},
	},
	{
		pattern: "preview not found",
		msg: UserMessage{
			Message: "This preview is no longer available",
			Action:  "Select the file again",
			Code:    "AUD003",
		},
	},
	{
		pattern: "unknown playback action",
		msg: UserMessage{
			Message: "Unknown playback control",
			Action:  "Use play, pause, stop or loop",
			Code:    "AUD004",
		},
	},

	// =========================================================================
	// Files and CSV (FILE001-FILE005, CSV001)
	// =========================================================================
	{
		pattern: "file too large for import",
		msg: UserMessage{
			Message: MsgCSVTooLarge,
			Action:  "Smaller files import faster",
			Code:    "FILE001",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure file is comma-separated",
			Code:    "FILE002",
		},
	},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File contains invalid characters",
			Action:  "Save file as UTF-8 encoding",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a file to upload",
			Code:    "FILE004",
		},
	},
	{
		pattern: "request body too large",
		msg: UserMessage{
			Message: "The upload exceeds the server limit",
			Action:  "Upload fewer or smaller files",
			Code:    "FILE005",
		},
	},
	{
		pattern: "csv headers are not valid",
		msg: UserMessage{
			Message: MsgInvalidHeaders,
			Action:  "Include S NO, File Name, Duration and Size (KB)",
			Code:    "CSV001",
		},
	},

	// =========================================================================
	// Request lifecycle (REQ001-REQ002)
	// =========================================================================
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "REQ001",
		},
	},
	{pattern: "context deadline exceeded", msg: msgTimeout},
	{pattern: "timeout", msg: msgTimeout},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},

	// =========================================================================
	// Request forgery (SEC001)
	// =========================================================================
	{
		pattern: "csrf",
		msg: UserMessage{
			Message: "Your form has expired",
			Action:  "Reload the page and submit it again",
			Code:    "SEC001",
		},
	},
	{
		pattern: "referer",
		msg: UserMessage{
			Message: "Your form has expired",
			Action:  "Reload the page and submit it again",
			Code:    "SEC001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
//
// Example:
//
//	msg := MapError(fmt.Errorf("sign_in_email: %w", ErrInvalidCredentials))
//	// msg.Code == "AUTH001"
//	// msg.Message == "Invalid credentials"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// IsUserFacing checks if an error matches a known pattern and should be shown to users.
// Returns true if the error matches a specific pattern (not the generic ERR000 fallback).
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	msg := MapError(err)
	return msg.Code != defaultMessage.Code
}
