package mitre

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		honeyToken bool
		sqli       bool
		want       string
	}{
		{name: "correct api key", apiKey: "correct", want: TechniqueUnsecuredCredentials},
		{name: "honey token beats sqli", apiKey: "none", honeyToken: true, sqli: true, want: TechniqueUnsecuredCredentials},
		{name: "correct key beats sqli", apiKey: "correct", sqli: true, want: TechniqueUnsecuredCredentials},
		{name: "sql injection", apiKey: "none", sqli: true, want: TechniqueExploitPublicFacing},
		{name: "sqli beats wrong key", apiKey: "wrong", sqli: true, want: TechniqueExploitPublicFacing},
		{name: "wrong api key", apiKey: "wrong", want: TechniqueBruteForce},
		{name: "plain probing", apiKey: "none", want: TechniqueExploitPublicFacing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Map(tt.apiKey, tt.honeyToken, tt.sqli))
		})
	}
}

func TestNameAndTactic(t *testing.T) {
	assert.Equal(t, "Unsecured Credentials", Name(TechniqueUnsecuredCredentials))
	assert.Equal(t, "Exploit Public-Facing Application", Name(TechniqueExploitPublicFacing))
	assert.Equal(t, "Brute Force", Name(TechniqueBruteForce))
	assert.Equal(t, "Unknown", Name("T9999"))

	assert.Equal(t, "Credential Access", Tactic(TechniqueUnsecuredCredentials))
	assert.Equal(t, "Credential Access", Tactic(TechniqueBruteForce))
	assert.Equal(t, "Initial Access", Tactic(TechniqueExploitPublicFacing))
	assert.Equal(t, "Unknown", Tactic("T9999"))
}
