// Package api is the HTTP client for the platform REST API.
//
// The realtime layer consumes three endpoints: conversation history,
// send persistence, and profile lookups. Every response wears the same
// envelope — {"success": bool, ...} on success, {"success": false,
// "message": ...} on failure — and failures surface as *Error carrying the
// status code and server message. The API itself is an external
// collaborator and is not redesigned here.
package api
