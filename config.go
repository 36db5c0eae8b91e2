package thenvoi

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Credentials identify one agent on the platform. Agents must be created
// on the platform as external agents before use.
type Credentials struct {
	AgentID string `yaml:"agent_id"`
	APIKey  string `yaml:"api_key"`
}

// DefaultConfigFile is the credentials file looked up in the working
// directory by LoadCredentials.
const DefaultConfigFile = "agent_config.yaml"

// LoadCredentials reads credentials for the named agent from a YAML file
// of the form:
//
//	my_agent:
//	  agent_id: "..."
//	  api_key: "..."
//
// A missing file, an unknown agent key, or empty required fields all
// produce a configuration error.
func LoadCredentials(path, agentKey string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, configError("load credentials",
			"%s not found: copy %s.example and configure your agents: %v",
			path, DefaultConfigFile, err)
	}

	var file map[string]Credentials
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Credentials{}, configError("load credentials", "parse %s: %v", path, err)
	}

	creds, ok := file[agentKey]
	if !ok {
		return Credentials{}, configError("load credentials",
			"agent %q not found in %s", agentKey, path)
	}

	var missing []string
	if creds.AgentID == "" {
		missing = append(missing, "agent_id")
	}
	if creds.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if len(missing) > 0 {
		return Credentials{}, configError("load credentials",
			"missing required fields for agent %q: %v", agentKey, missing)
	}

	return creds, nil
}

// CredentialsFromEnv reads THENVOI_AGENT_ID and THENVOI_API_KEY.
func CredentialsFromEnv() (Credentials, error) {
	creds := Credentials{
		AgentID: os.Getenv("THENVOI_AGENT_ID"),
		APIKey:  os.Getenv("THENVOI_API_KEY"),
	}
	if creds.AgentID == "" || creds.APIKey == "" {
		return Credentials{}, configError("load credentials",
			"THENVOI_AGENT_ID and THENVOI_API_KEY must be set")
	}
	return creds, nil
}

// EndpointsFromEnv returns LinkOptions for THENVOI_WS_URL and
// THENVOI_REST_URL when set, so examples can point at a local platform
// without code changes.
func EndpointsFromEnv() []LinkOption {
	var opts []LinkOption
	if v := os.Getenv("THENVOI_WS_URL"); v != "" {
		opts = append(opts, WithWSURL(v))
	}
	if v := os.Getenv("THENVOI_REST_URL"); v != "" {
		opts = append(opts, WithRESTURL(v))
	}
	return opts
}

// AgentProfile is the platform's record of this agent, fetched at
// startup. Name and Description are required: an agent without a
// description cannot introduce itself to peers.
type AgentProfile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (p *AgentProfile) validate(agentID string) error {
	if p.Name == "" {
		return configError("fetch agent metadata", "agent %s has no name", agentID)
	}
	if p.Description == "" {
		return configError("fetch agent metadata", "agent %s has no description", agentID)
	}
	return nil
}
