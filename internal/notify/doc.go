// Package notify turns farm webhook calls into notification mails.
//
// HookProcessor validates a call and renders the localized subject and body
// from the embedded templates and catalogs. Dispatcher queues the message on
// the worker pool, where a Mailer delivers it.
package notify
