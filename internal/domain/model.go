package domain

import "strings"

type CredentialSource string

const (
	// CredentialAPIKey uses the key the caller passes to Start.
	CredentialAPIKey CredentialSource = "api_key"

	// CredentialManaged uses the managed-model access token.
	CredentialManaged CredentialSource = "managed"
)

const (
	ModelClaudeSonnet = "claude-3-5-sonnet-20240620"
	ModelGPT4o        = "gpt-4o"
	ModelManaged      = "pearai_model"
)

// ModelFamily maps a group of model identifiers to the secret variable and
// credential source the agent needs. Adding a family is a table change.
type ModelFamily struct {
	Name string
	// Match is compared exactly, or as a substring when MatchContains is set.
	// An empty Match never matches; the default family is picked explicitly.
	Match         string
	MatchContains bool
	EnvVar        string
	Credential    CredentialSource
	// PassModel appends `--model <id>` to the agent invocation.
	PassModel bool
}

var modelFamilies = []ModelFamily{
	{Name: "claude", Match: "claude", MatchContains: true, EnvVar: "ANTHROPIC_API_KEY", Credential: CredentialAPIKey, PassModel: true},
	{Name: "gpt-4o", Match: ModelGPT4o, EnvVar: "OPENAI_API_KEY", Credential: CredentialAPIKey, PassModel: true},
	{Name: "managed", Match: ModelManaged, EnvVar: "OPENAI_API_KEY", Credential: CredentialManaged},
}

// ManagedFamily is used for any model that no other family claims.
var ManagedFamily = modelFamilies[len(modelFamilies)-1]

func (f ModelFamily) matches(model string) bool {
	if f.Match == "" {
		return false
	}
	if f.MatchContains {
		return strings.Contains(model, f.Match)
	}
	return model == f.Match
}

// FamilyFor returns the family serving model, falling back to the managed
// family.
func FamilyFor(model string) ModelFamily {
	for _, family := range modelFamilies {
		if family.matches(model) {
			return family
		}
	}
	return ManagedFamily
}

// Models is the fixed list of model identifiers the driver offers.
func Models() []string {
	return []string{ModelClaudeSonnet, ModelManaged, ModelGPT4o}
}
