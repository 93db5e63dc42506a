// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It acts as an adapter between the browser frontend,
// the task farm webhooks and the internal services.
package api
