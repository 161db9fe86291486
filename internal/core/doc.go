// Package core provides the domain logic of the portal.
//
// # Architecture
//
// The package has no HTTP or backend dependencies. It is organized around
// three pieces:
//
//   - Auth: [AuthService] owns the [AuthState] of each [Session] and runs the
//     five auth operations against an [IdentityProvider] and a [ProfileStore].
//     Sessions are read and written only through an injected [SessionStore].
//   - CSV import: [ParseCSV] decodes an upload into a [ParsedCsv] and
//     [ValidateHeaders] gates whether it is shown.
//   - Audio preview: [PreviewRegistry] stages selected files per session and
//     releases them when replaced or discarded.
//
// # Auth Operations
//
// Every operation sets IsLoading, calls the backend under a timeout, then
// merges its result and clears IsLoading in one store update:
//
//	err := auth.SignInWithEmail(ctx, sessionID, email, password)
//	if errors.Is(err, core.ErrAuthInProgress) {
//	    // another request of this session is still running
//	}
//
// Outcomes are also reported to the user through a [Notifier].
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
package core
