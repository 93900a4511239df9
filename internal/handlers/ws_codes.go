// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the session handlers. These provide
// more specific reasons for closure than standard codes.
const (
	BadSubprotocolError   = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError = 3001 // Provided auth token was invalid or expired.
	InvalidUserIDError    = 3002 // User ID derived from token was malformed or invalid.
	UserSuspendedError    = 3004 // Account is temporarily suspended for serial disconnects.
)
