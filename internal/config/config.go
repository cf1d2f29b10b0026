// Package config loads and validates the dispatcher's on-disk
// configuration: an INI-format keyed-section file with a server
// section, a tokens section, an agent section, and three sections per
// declared executor (executor.<name>, params.<name>, varenvs.<name>).
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	agenterrors "github.com/doyler/faraday-agent-dispatcher/internal/errors"
	"github.com/doyler/faraday-agent-dispatcher/internal/paramschema"
	"github.com/doyler/faraday-agent-dispatcher/internal/token"

	"gopkg.in/ini.v1"
)

const defaultMaxSize = 65536

// ExecutorSpec is the typed description of one declared executor,
// derived from its executor.<name>, params.<name>, and varenvs.<name>
// sections.
type ExecutorSpec struct {
	Name    string
	Cmd     string
	MaxSize int
	Params  *paramschema.Schema
	Varenvs map[string]string
}

// Config is the immutable, validated in-memory tree loaded from a
// config file. It never mutates after Load returns, except for the
// agent token written back by Save after registration.
type Config struct {
	Host          string
	APIPort       int
	WebsocketPort int
	Workspace     string
	SSL           bool
	SSLSkipVerify bool

	RegistrationToken string
	AgentToken        string

	AgentName string
	Executors map[string]*ExecutorSpec

	executorNames []string
	file          *ini.File
	path          string
}

var sectionHeaderRe = regexp.MustCompile(`^\[(.+)\]$`)

// Load reads, parses, and validates a config file at path, returning a
// *Config or a *errors.ConfigError describing the first problem found.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, agenterrors.NewConfigError(path, err.Error())
	}

	if err := detectDuplicateSections(raw); err != nil {
		return nil, err
	}

	f, err := ini.Load(raw)
	if err != nil {
		return nil, agenterrors.NewConfigError(path, "malformed config file: "+err.Error())
	}

	cfg := &Config{file: f, path: path, Executors: map[string]*ExecutorSpec{}}

	if err := cfg.loadServer(f); err != nil {
		return nil, err
	}
	if err := cfg.loadTokens(f); err != nil {
		return nil, err
	}
	if err := cfg.loadAgent(f); err != nil {
		return nil, err
	}
	for _, name := range cfg.executorNames {
		spec, err := loadExecutor(f, name)
		if err != nil {
			return nil, err
		}
		cfg.Executors[name] = spec
	}

	return cfg, nil
}

// detectDuplicateSections scans for repeated `[name]` headers. ini.v1
// silently merges duplicate sections' keys rather than rejecting the
// file, so this check runs before parsing to surface the malformed-file
// case the config format requires.
func detectDuplicateSections(raw []byte) error {
	seen := make(map[string]struct{})
	for _, line := range strings.Split(string(raw), "\n") {
		trimmed := strings.TrimSpace(line)
		m := sectionHeaderRe.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		name := m[1]
		if _, dup := seen[name]; dup {
			return agenterrors.NewConfigError(name, "duplicate section in config file")
		}
		seen[name] = struct{}{}
	}
	return nil
}

func (c *Config) loadServer(f *ini.File) error {
	sec, err := f.GetSection("server")
	if err != nil {
		return agenterrors.NewConfigError("server", "section is required")
	}
	host := sec.Key("host").String()
	if host == "" {
		return agenterrors.NewConfigError("server.host", "option is required in the configuration file")
	}
	c.Host = host

	apiPort, err := requiredInt(sec, "server.api_port")
	if err != nil {
		return err
	}
	if apiPort < 1 || apiPort > 65535 {
		return agenterrors.NewConfigError("server.api_port", "must be between 1 and 65535")
	}
	c.APIPort = apiPort

	wsPort, err := requiredInt(sec, "server.websocket_port")
	if err != nil {
		return err
	}
	if wsPort < 1 || wsPort > 65535 {
		return agenterrors.NewConfigError("server.websocket_port", "must be between 1 and 65535")
	}
	c.WebsocketPort = wsPort

	workspace := sec.Key("workspace").String()
	if workspace == "" {
		return agenterrors.NewConfigError("server.workspace", "option is required in the configuration file")
	}
	c.Workspace = workspace

	c.SSL = sec.Key("ssl").MustBool(false)
	c.SSLSkipVerify = sec.Key("ssl_skip_verify").MustBool(false)
	return nil
}

func (c *Config) loadTokens(f *ini.File) error {
	sec, err := f.GetSection("tokens")
	if err != nil {
		return agenterrors.NewConfigError("tokens", "section is required")
	}
	reg := sec.Key("registration").String()
	if err := token.ValidateRegistration("tokens.registration", reg); err != nil {
		return err
	}
	c.RegistrationToken = reg

	agentTok := sec.Key("agent").String()
	if err := token.ValidateAgent("tokens.agent", agentTok); err != nil {
		return err
	}
	c.AgentToken = agentTok
	return nil
}

func (c *Config) loadAgent(f *ini.File) error {
	sec, err := f.GetSection("agent")
	if err != nil {
		return agenterrors.NewConfigError("agent", "section is required")
	}
	name := sec.Key("agent_name").String()
	if name == "" {
		return agenterrors.NewConfigError("agent.agent_name", "option is required in the configuration file")
	}
	c.AgentName = name

	raw := sec.Key("executors").String()
	if raw == "" {
		return agenterrors.NewConfigError("agent.executors", "option is required in the configuration file")
	}

	names, err := splitExecutorList(raw)
	if err != nil {
		return err
	}
	c.executorNames = names
	return nil
}

// splitExecutorList parses a comma-separated executor list, tolerating
// surrounding whitespace around each name and rejecting duplicates or
// names containing an internal space.
func splitExecutorList(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		name := strings.TrimSpace(part)
		if name == "" {
			return nil, agenterrors.NewConfigError("agent.executors", "contains an empty executor name")
		}
		if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
			return nil, agenterrors.NewConfigError("agent.executors", "executor name "+name+" must not contain whitespace")
		}
		if _, dup := seen[name]; dup {
			return nil, agenterrors.NewConfigError("agent.executors", "duplicate executor name "+name)
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names, nil
}

func loadExecutor(f *ini.File, name string) (*ExecutorSpec, error) {
	execSec, err := f.GetSection("executor." + name)
	if err != nil {
		return nil, agenterrors.NewConfigError("executor."+name, "section is required for declared executor "+name)
	}
	cmd := execSec.Key("cmd").String()
	if cmd == "" {
		return nil, agenterrors.NewConfigError("executor."+name+".cmd", "option is required in the configuration file")
	}
	maxSize := defaultMaxSize
	if execSec.HasKey("max_size") {
		maxSize, err = execSec.Key("max_size").Int()
		if err != nil {
			return nil, agenterrors.NewConfigError("executor."+name+".max_size", "must be an integer")
		}
	}

	params, err := loadParams(f, name)
	if err != nil {
		return nil, err
	}

	varenvs := map[string]string{}
	if sec, err := f.GetSection("varenvs." + name); err == nil {
		for _, key := range sec.Keys() {
			varenvs[key.Name()] = key.String()
		}
	}

	return &ExecutorSpec{
		Name:    name,
		Cmd:     cmd,
		MaxSize: maxSize,
		Params:  params,
		Varenvs: varenvs,
	}, nil
}

// loadParams reads params.<name>, whose values are "True"/"False"
// (case-insensitive, required flag) with an optional ":type" suffix
// (":int", ":str", ":bool", ":list", ":host"; default "str" when
// omitted).
func loadParams(f *ini.File, name string) (*paramschema.Schema, error) {
	sec, err := f.GetSection("params." + name)
	if err != nil {
		return paramschema.New(nil)
	}

	var params []paramschema.Param
	for _, key := range sec.Keys() {
		paramName := key.Name()
		if strings.IndexFunc(paramName, unicode.IsSpace) >= 0 {
			return nil, agenterrors.NewConfigError("params."+name, "param name "+paramName+" must not contain whitespace")
		}
		raw := key.String()
		requiredPart, typePart, hasType := strings.Cut(raw, ":")

		required, err := parseRequiredFlag(requiredPart)
		if err != nil {
			return nil, agenterrors.NewConfigError("params."+name+"."+paramName, err.Error())
		}

		pt := paramschema.TypeStr
		nullable := false
		if hasType {
			switch strings.ToLower(typePart) {
			case "int":
				pt = paramschema.TypeInt
			case "str":
				pt = paramschema.TypeStr
			case "bool":
				pt = paramschema.TypeBool
			case "list":
				pt = paramschema.TypeList
			case "host":
				pt = paramschema.TypeHost
			case "int?":
				pt, nullable = paramschema.TypeInt, true
			default:
				return nil, agenterrors.NewConfigError("params."+name+"."+paramName, "unknown type "+typePart)
			}
		}

		params = append(params, paramschema.Param{
			Name:     paramName,
			Type:     pt,
			Required: required,
			Nullable: nullable,
		})
	}
	return paramschema.New(params)
}

func parseRequiredFlag(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("value %q must be True or False", v)
	}
}

func requiredInt(sec *ini.Section, field string) (int, error) {
	key := sec.Key(lastSegment(field))
	if key.String() == "" {
		return 0, agenterrors.NewConfigError(field, "option is required in the configuration file")
	}
	n, err := strconv.Atoi(key.String())
	if err != nil {
		return 0, agenterrors.NewConfigError(field, "must be an integer")
	}
	return n, nil
}

func lastSegment(field string) string {
	idx := strings.LastIndex(field, ".")
	if idx < 0 {
		return field
	}
	return field[idx+1:]
}

// Save writes the agent token back to path, preserving every other
// section and key as loaded. It is used only after a successful
// registration exchanges a registration token for an agent token.
func (c *Config) Save(path string) error {
	sec, err := c.file.GetSection("tokens")
	if err != nil {
		sec, err = c.file.NewSection("tokens")
		if err != nil {
			return agenterrors.NewConfigError("tokens", err.Error())
		}
	}
	sec.Key("agent").SetValue(c.AgentToken)
	if err := c.file.SaveTo(path); err != nil {
		return agenterrors.NewConfigError(path, err.Error())
	}
	return nil
}

// SetAgentToken records a newly-issued agent token in memory. Call
// Save afterward to persist it.
func (c *Config) SetAgentToken(tok string) error {
	if err := token.ValidateAgent("tokens.agent", tok); err != nil {
		return err
	}
	c.AgentToken = tok
	return nil
}
