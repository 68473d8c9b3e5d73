// Package observability provides event logging, metrics calculation, and
// alerting for qsync. Replica and submission activity is persisted as JSON
// Lines (JSONL) and metrics and alerts are derived on demand from that log.
package observability
