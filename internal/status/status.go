// Package status builds the canonical StatusFrames the Executor
// Supervisor and Request Router emit over the WebSocket: the fixed
// message text for each lifecycle event, worded exactly as specified.
package status

import "github.com/doyler/faraday-agent-dispatcher/internal/protocol"

// Running reports that an executor has just been spawned.
func Running(executorName, agentName string) protocol.StatusFrame {
	return protocol.NewRunStatus(executorName, protocol.Running(true), nil,
		"Running "+executorName+" executor from "+agentName+" agent")
}

// Succeeded reports a zero-exit executor completion.
func Succeeded(executorName, agentName string) protocol.StatusFrame {
	return protocol.NewRunStatus(executorName, nil, protocol.Successful(true),
		"Executor "+executorName+" from "+agentName+" finished successfully")
}

// Failed reports a non-zero-exit executor completion.
func Failed(executorName, agentName string) protocol.StatusFrame {
	return protocol.NewRunStatus(executorName, nil, protocol.Successful(false),
		"Executor "+executorName+" from "+agentName+" failed")
}
