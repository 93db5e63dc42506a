// Package service implements the capture request use cases.
//
// RequestService sits between the HTTP API and its collaborators: the farm
// client that runs capture tasks, the tracker that enforces per-caller quotas
// and the URL blacklist. It returns sentinel errors and typed errors
// (BlacklistedError, AdmissionError) that the API maps to status codes.
package service
