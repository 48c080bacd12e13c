// Package mitre maps detector verdicts to MITRE ATT&CK technique ids.
package mitre

// Technique ids observable from honeypot traffic.
const (
	TechniqueUnsecuredCredentials = "T1552"
	TechniqueExploitPublicFacing  = "T1190"
	TechniqueBruteForce           = "T1110"
)

// Map picks the technique for one analyzed request.  Checks run in priority
// order: credential use beats injection beats brute force; anything else is
// recorded as general probing of a public-facing application.
func Map(apiKeyStatus string, honeyTokenTriggered, sqlInjectionDetected bool) string {
	switch {
	case apiKeyStatus == "correct" || honeyTokenTriggered:
		return TechniqueUnsecuredCredentials
	case sqlInjectionDetected:
		return TechniqueExploitPublicFacing
	case apiKeyStatus == "wrong":
		return TechniqueBruteForce
	default:
		return TechniqueExploitPublicFacing
	}
}

// Name returns the ATT&CK technique label.
func Name(id string) string {
	switch id {
	case TechniqueUnsecuredCredentials:
		return "Unsecured Credentials"
	case TechniqueExploitPublicFacing:
		return "Exploit Public-Facing Application"
	case TechniqueBruteForce:
		return "Brute Force"
	default:
		return "Unknown"
	}
}

// Tactic returns the ATT&CK tactic the technique belongs to.
func Tactic(id string) string {
	switch id {
	case TechniqueUnsecuredCredentials, TechniqueBruteForce:
		return "Credential Access"
	case TechniqueExploitPublicFacing:
		return "Initial Access"
	default:
		return "Unknown"
	}
}
