// Package zimfarm provides a client for the Zimfarm task-execution API.
//
// The client authenticates with a username and password, caches the access
// token until shortly before it expires and re-authenticates when the API
// answers 401. Concurrent re-authentications collapse into a single call.
// Idempotent requests (GET, DELETE) are retried with exponential backoff on
// transport errors and 5xx responses.
//
// Non-2xx responses are returned as *APIError, which matches ErrNotFound,
// ErrBadRequest or ErrUnauthorized with errors.Is depending on the status code.
package zimfarm
