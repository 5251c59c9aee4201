package hook

// Trigger is one of spec §4.6's exact hook-type strings.
type Trigger string

const (
	ChallengeHTTP01       Trigger = "challenge-http-01"
	ChallengeHTTP01Clean  Trigger = "challenge-http-01-clean"
	ChallengeDNS01        Trigger = "challenge-dns-01"
	ChallengeDNS01Clean   Trigger = "challenge-dns-01-clean"
	ChallengeTLSALPN01      Trigger = "challenge-tls-alpn-01"
	ChallengeTLSALPN01Clean Trigger = "challenge-tls-alpn-01-clean"
	FilePreCreate  Trigger = "file-pre-create"
	FilePostCreate Trigger = "file-post-create"
	FilePreEdit    Trigger = "file-pre-edit"
	FilePostEdit   Trigger = "file-post-edit"
	PostOperation  Trigger = "post-operation"
)

// ChallengeContext builds the Vars for a challenge-* trigger, spec §4.6:
// identifier, identifier_tls_alpn, file_name, proof, challenge, key_type,
// is_clean_hook.
func ChallengeContext(identifierValue, identifierTLSALPN, fileName, proof, challenge, keyType string, isClean bool) Vars {
	return Vars{
		"identifier":         identifierValue,
		"identifier_tls_alpn": identifierTLSALPN,
		"file_name":          fileName,
		"proof":              proof,
		"challenge":          challenge,
		"key_type":           keyType,
		"is_clean_hook":      boolStr(isClean),
	}
}

// FileContext builds the Vars for a file-* trigger, spec §4.6: file_name,
// file_directory, file_path.
func FileContext(fileName, fileDirectory, filePath string) Vars {
	return Vars{
		"file_name":      fileName,
		"file_directory": fileDirectory,
		"file_path":      filePath,
	}
}

// PostOperationContext builds the Vars for the post-operation trigger,
// spec §4.6: is_success, identifiers (comma-joined for template use).
func PostOperationContext(isSuccess bool, identifiersCSV string) Vars {
	return Vars{
		"is_success":  boolStr(isSuccess),
		"identifiers": identifiersCSV,
	}
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
