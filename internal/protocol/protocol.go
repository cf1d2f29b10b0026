// Package protocol defines the JSON message shapes exchanged over the
// dispatcher's WebSocket control channel: the outbound JOIN_AGENT
// handshake and outbound StatusFrames. Inbound RUN frames have no
// fixed struct here — the Request Router decodes them as a bare
// map[string]json.RawMessage, since it must tell an absent key apart
// from a present-but-empty one on a per-key basis that a single
// json.Unmarshal into a struct cannot preserve.
package protocol

// ExecutorAdvertisement is one entry of the JOIN_AGENT frame's
// executors array: the declared param schema for one executor,
// expressed as paramName -> required.
type ExecutorAdvertisement struct {
	ExecutorName string          `json:"executor_name"`
	Args         map[string]bool `json:"args"`
}

// JoinFrame is the first frame the WebSocket Client sends after
// dialing: it joins the workspace and advertises every configured
// executor's parameter schema.
type JoinFrame struct {
	Action    string                  `json:"action"`
	Workspace string                  `json:"workspace"`
	Token     string                  `json:"token"`
	Executors []ExecutorAdvertisement `json:"executors"`
}

// NewJoinFrame builds a JOIN_AGENT frame.
func NewJoinFrame(workspace, wsToken string, executors []ExecutorAdvertisement) JoinFrame {
	return JoinFrame{
		Action:    "JOIN_AGENT",
		Workspace: workspace,
		Token:     wsToken,
		Executors: executors,
	}
}

// StatusFrame is an outbound RUN_STATUS frame.
type StatusFrame struct {
	Action       string `json:"action"`
	ExecutorName string `json:"executor_name,omitempty"`
	Running      *bool  `json:"running,omitempty"`
	Successful   *bool  `json:"successful,omitempty"`
	Message      string `json:"message"`
}

func boolPtr(b bool) *bool { return &b }

// NewRunStatus builds a RUN_STATUS frame. running and successful are
// optional per spec; pass nil for whichever does not apply to this
// frame.
func NewRunStatus(executorName string, running, successful *bool, message string) StatusFrame {
	return StatusFrame{
		Action:       "RUN_STATUS",
		ExecutorName: executorName,
		Running:      running,
		Successful:   successful,
		Message:      message,
	}
}

// Running returns a *bool(true/false) helper for StatusFrame fields.
func Running(v bool) *bool { return boolPtr(v) }

// Successful returns a *bool(true/false) helper for StatusFrame fields.
func Successful(v bool) *bool { return boolPtr(v) }

// UnrecognizedActionResponseKey returns the "<ACTION>_RESPONSE" key of
// the `{"<ACTION>_RESPONSE": "..."}` frame the Router emits for any
// action other than "RUN". That frame is not a StatusFrame — the wire
// shape has no fixed key set — so the caller builds and marshals it as
// a plain map.
func UnrecognizedActionResponseKey(action string) string {
	return action + "_RESPONSE"
}
