// Package supervisor implements the Executor Supervisor: it spawns one
// executor subprocess per validated RunRequest, fans its stdout,
// stderr, and a named-pipe side channel into bounded Line Framers, and
// forwards every parsed JSON record to the bulk-ingest endpoint.
package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/doyler/faraday-agent-dispatcher/internal/config"
	"github.com/doyler/faraday-agent-dispatcher/internal/framer"
	"github.com/doyler/faraday-agent-dispatcher/internal/protocol"
	"github.com/doyler/faraday-agent-dispatcher/internal/status"
)

// BulkUploader forwards one opaque JSON record to the server's
// bulk-ingest endpoint. Implemented by internal/httpclient.Client.
type BulkUploader interface {
	BulkCreate(record json.RawMessage) error
}

// Supervisor runs executors on behalf of one agent identity.
type Supervisor struct {
	AgentName string
	Uploader  BulkUploader
	Log       *logrus.Logger
}

// New builds a Supervisor.
func New(agentName string, uploader BulkUploader, log *logrus.Logger) *Supervisor {
	return &Supervisor{AgentName: agentName, Uploader: uploader, Log: log}
}

// Run spawns spec.Cmd, fans out its three output streams, and emits
// StatusFrames via emit as the run progresses. It blocks until the
// subprocess exits and every framer has drained; callers that want
// concurrent runs call Run from their own goroutine per RunRequest, as
// the WebSocket Client does by handing each inbound frame to the Request
// Router on a separate goroutine.
func (s *Supervisor) Run(spec *config.ExecutorSpec, args map[string]string, emit func(protocol.StatusFrame)) {
	fifoPath, err := createFIFO()
	if err != nil {
		s.Log.WithError(err).Error("failed to create FIFO side channel")
		return
	}
	defer os.Remove(fifoPath)

	env := buildEnv(spec, args, fifoPath)

	emit(status.Running(spec.Name, s.AgentName))
	s.Log.Info("Running " + spec.Name + " executor")

	cmd := exec.Command("sh", "-c", spec.Cmd)
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.Log.WithError(err).Error("failed to open executor stdout pipe")
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.Log.WithError(err).Error("failed to open executor stderr pipe")
		return
	}

	if err := cmd.Start(); err != nil {
		s.Log.WithError(err).Error("failed to start executor")
		return
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		s.drainRecordStream(framer.New(stdout, spec.MaxSize, "stdout"), "stdout")
	}()

	go func() {
		defer wg.Done()
		s.drainStderr(framer.New(stderr, spec.MaxSize, "stderr"))
	}()

	go func() {
		defer wg.Done()
		pipeFile, err := os.OpenFile(fifoPath, os.O_RDONLY, 0)
		if err != nil {
			s.Log.WithError(err).Error("failed to open FIFO side channel for reading")
			return
		}
		defer pipeFile.Close()
		s.drainRecordStream(framer.New(pipeFile, spec.MaxSize, "pipe"), "pipe")
	}()

	wg.Wait()
	err = cmd.Wait()

	if err == nil {
		emit(status.Succeeded(spec.Name, s.AgentName))
		s.Log.Info("Executor " + spec.Name + " finished successfully")
		return
	}

	exitCode := -1
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}
	emit(status.Failed(spec.Name, s.AgentName))
	s.Log.Warn(fmt.Sprintf("Executor %s finished with exit code %d", spec.Name, exitCode))
}

// drainRecordStream implements the shared stdout/pipe policy: parse
// each line as JSON and forward it to the bulk-ingest endpoint, logging
// and continuing on any failure. Run never hands this a blank line, so
// every call here carries real content.
func (s *Supervisor) drainRecordStream(f *framer.Framer, streamName string) {
	f.Run(func(line string) {
		var record json.RawMessage
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			s.Log.Error(fmt.Sprintf("JSON Parsing error: %v", err))
			return
		}
		s.Log.Info("Data sent to bulk create")
		if err := s.Uploader.BulkCreate(record); err != nil {
			s.Log.Error(err.Error())
		}
	}, func(err error) {
		s.Log.Error("ValueError raised processing stdout, try with bigger limiting size in config")
	}, func() {
		s.Log.Warn(streamName + " sent empty data")
	})
}

func (s *Supervisor) drainStderr(f *framer.Framer) {
	f.Run(func(line string) {
		s.Log.Debug("Error line: " + line)
	}, func(err error) {
		s.Log.Error("ValueError raised processing stdout, try with bigger limiting size in config")
	}, func() {
		s.Log.Warn("stderr sent empty data")
	})
}

// buildEnv composes the child environment: the parent's environment,
// overridden by the executor's configured varenvs, then FIFO_NAME, then
// each coerced arg lifted to an uppercase EXECUTOR_CONFIG_<KEY> var.
func buildEnv(spec *config.ExecutorSpec, args map[string]string, fifoPath string) []string {
	env := os.Environ()
	for k, v := range spec.Varenvs {
		env = append(env, k+"="+v)
	}
	env = append(env, "FIFO_NAME="+fifoPath)
	for k, v := range args {
		env = append(env, "EXECUTOR_CONFIG_"+strings.ToUpper(k)+"="+v)
	}
	return env
}

// createFIFO makes a Unix named pipe at a freshly-chosen random path
// under the system temp directory, removing any stale file left at
// that path first.
func createFIFO() (string, error) {
	path := filepath.Join(os.TempDir(), randomName())

	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return "", fmt.Errorf("remove stale FIFO at %s: %w", path, err)
		}
	}
	if err := syscall.Mkfifo(path, 0o600); err != nil {
		return "", fmt.Errorf("mkfifo %s: %w", path, err)
	}
	return path, nil
}

// randomName returns a bare 10-character alphanumeric string, in place
// of Dispatcher.rnd_fifo_name()'s `random.choice` loop in the original
// implementation this module is based on: a uuid is cheap, collision-
// resistant randomness already in the dependency tree, so its hyphens
// are stripped and the result truncated to the same 10 characters.
func randomName() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:10]
}
