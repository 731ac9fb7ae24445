// Package dedupe tracks recently seen keys so redelivered events are
// processed once. Keys expire after a TTL and the set is bounded in size.
package dedupe
