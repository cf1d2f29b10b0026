// Package router implements the Request Router: it decodes inbound
// WebSocket control frames, validates the requested action and
// executor/argument selection, and hands valid RUN requests off to an
// Executor Supervisor.
package router

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/doyler/faraday-agent-dispatcher/internal/config"
	agenterrors "github.com/doyler/faraday-agent-dispatcher/internal/errors"
	"github.com/doyler/faraday-agent-dispatcher/internal/protocol"
)

// Runner supervises one RUN request's subprocess, emitting StatusFrames
// via emit as the run progresses. Implemented by internal/supervisor.
type Runner interface {
	Run(spec *config.ExecutorSpec, args map[string]string, emit func(protocol.StatusFrame))
}

// Router holds the configured agent identity and executor set it
// validates inbound frames against.
type Router struct {
	AgentName string
	Executors map[string]*config.ExecutorSpec
	Runner    Runner
	Log       *logrus.Logger
}

// New builds a Router over the given agent identity, executor set, and
// Supervisor.
func New(agentName string, executors map[string]*config.ExecutorSpec, runner Runner, log *logrus.Logger) *Router {
	return &Router{AgentName: agentName, Executors: executors, Runner: runner, Log: log}
}

// Handle decodes one already-JSON-parsed inbound frame and dispatches
// it. emitStatus sends a StatusFrame; emitRaw sends an arbitrary JSON
// object (used only for the unrecognized-action response, whose key is
// the action name itself and so cannot be a fixed StatusFrame shape).
func (r *Router) Handle(msg map[string]json.RawMessage, emitStatus func(protocol.StatusFrame), emitRaw func(map[string]interface{})) {
	actionRaw, hasAction := msg["action"]
	if !hasAction {
		emitStatus(protocol.NewRunStatus("", protocol.Running(false), nil, "'action' key is mandatory in this websocket connection"))
		r.Log.Info("Data not contains action to do")
		return
	}

	var action string
	if err := json.Unmarshal(actionRaw, &action); err != nil {
		emitStatus(protocol.NewRunStatus("", protocol.Running(false), nil, "'action' key is mandatory in this websocket connection"))
		r.Log.Info("Data not contains action to do")
		return
	}

	if action != "RUN" {
		emitRaw(map[string]interface{}{
			protocol.UnrecognizedActionResponseKey(action): "Error: Unrecognized action",
		})
		r.Log.Info("Unrecognized action")
		return
	}

	r.handleRun(msg, emitStatus)
}

func (r *Router) handleRun(msg map[string]json.RawMessage, emitStatus func(protocol.StatusFrame)) {
	executorRaw, hasExecutor := msg["executor"]
	if !hasExecutor {
		emitStatus(protocol.NewRunStatus("", protocol.Running(false), nil, "No executor selected to "+r.AgentName+" agent"))
		r.Log.Error("No executor selected")
		return
	}

	var executorName string
	if err := json.Unmarshal(executorRaw, &executorName); err != nil {
		emitStatus(protocol.NewRunStatus("", protocol.Running(false), nil, "No executor selected to "+r.AgentName+" agent"))
		r.Log.Error("No executor selected")
		return
	}

	spec, ok := r.Executors[executorName]
	if !ok {
		emitStatus(protocol.NewRunStatus(executorName, protocol.Running(false), nil,
			"The selected executor "+executorName+" not exists in "+r.AgentName+" agent"))
		r.Log.Error("The selected executor not exists")
		return
	}

	args, err := argsToStringMap(msg["args"])
	if err != nil {
		emitStatus(protocol.NewRunStatus(executorName, protocol.Running(false), nil,
			"Unexpected argument(s) passed to "+executorName+" executor from "+r.AgentName+" agent"))
		r.Log.Error("Unexpected argument passed")
		return
	}

	if err := spec.Params.Validate(args); err != nil {
		if errors.Is(err, agenterrors.ErrArgMissing) {
			emitStatus(protocol.NewRunStatus(executorName, protocol.Running(false), nil,
				"Mandatory argument(s) not passed to "+executorName+" executor from "+r.AgentName+" agent"))
			r.Log.Error("Mandatory argument not passed")
		} else {
			emitStatus(protocol.NewRunStatus(executorName, protocol.Running(false), nil,
				"Unexpected argument(s) passed to "+executorName+" executor from "+r.AgentName+" agent"))
			r.Log.Error("Unexpected argument passed")
		}
		return
	}

	r.Runner.Run(spec, args, emitStatus)
}

func argsToStringMap(raw json.RawMessage) (map[string]string, error) {
	if len(raw) == 0 {
		return map[string]string{}, nil
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(generic))
	for k, v := range generic {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		case nil:
			out[k] = ""
		default:
			b, _ := json.Marshal(val)
			out[k] = string(b)
		}
	}
	return out, nil
}
