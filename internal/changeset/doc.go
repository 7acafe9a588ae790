// Package changeset builds review inputs from the places a change
// lives: a local git repository (base..head diff) or a GitHub pull
// request. The orchestrator itself never touches a repository; it only
// sees the immutable ReviewInput built here.
package changeset
