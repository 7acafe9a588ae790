// Package events publishes run progress onto NATS so external
// consumers (dashboards, CI gates, notification bots) can follow a
// review without polling the daemon. Publishing is best-effort: a
// broker outage never fails or delays a run.
package events
