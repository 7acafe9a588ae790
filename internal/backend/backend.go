package backend

const instrumentationName = "reviewd.backend"

// Response origins, recorded so a run trace shows which path served a phase.
const (
	OriginFacility = "facility"
	OriginDirect   = "direct"
)

// ExecuteRequest is the input to the orchestrated facility path.
type ExecuteRequest struct {
	Prompt          string   `json:"prompt"`
	ToolPermissions []string `json:"tool_permissions,omitempty"`
}

// RawResponse is the normalized output of either execution path.
// Content is the unparsed model output; callers validate it against the
// target phase's contract.
type RawResponse struct {
	Content      string `json:"content"`
	InputTokens  int64  `json:"input_tokens,omitempty"`
	OutputTokens int64  `json:"output_tokens,omitempty"`
	Origin       string `json:"origin,omitempty"`
}
