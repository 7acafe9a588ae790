// Package backend provides the two execution paths that obtain raw
// reasoning output for review phases.
//
// The orchestrated path (HTTPFacility) hands the phase prompt to an
// external agent-execution facility that manages model invocation and
// tool access. The direct path (AnthropicCompleter) calls the Anthropic
// API with an equivalent prompt. Both return the same RawResponse shape
// and classify their failures with the fault package, so callers never
// need to know which path produced a response or guess whether an error
// is worth retrying.
package backend
