// Package alerts implements the alert class registry, the live alert list and
// notification delivery for nasalert.
//
// A Class describes one kind of alert (category, level, title and a text
// template). One-shot classes construct and retire their alerts through
// Class.Create and Class.Delete; all other alerts are produced by periodic
// sources and reconciled into the Manager. The Dispatcher batches new and
// cleared alerts per Policy and hands them to webhook and mail notifiers.
package alerts
