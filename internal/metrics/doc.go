// Package metrics defines the Prometheus collectors clonepilot exports.
//
// A *Metrics satisfies the observer interfaces of the directline, poll and
// conversation packages, so one instance is wired into all three. A nil
// *Metrics is valid and records nothing.
package metrics
