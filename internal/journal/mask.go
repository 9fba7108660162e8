package journal

import (
	"regexp"
	"strings"
)

// Masked replaces secret values in persisted artifacts.
const Masked = "***"

// apiKeyPattern matches OpenAI-style keys that slip into free-form values.
var apiKeyPattern = regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`)

// secretKey reports whether a JSON object key names a credential. Request
// payloads carry criticKey/assistantKey; headers carry authorization.
func secretKey(key string) bool {
	k := strings.ToLower(key)
	if strings.HasSuffix(k, "key") || strings.HasSuffix(k, "apikey") {
		return true
	}
	switch k {
	case "authorization", "token", "secret", "api_key", "apisecret":
		return true
	}
	return false
}

// MaskSecrets walks decoded JSON and replaces credential values with "***".
// Object values under secret-named keys are masked whole; string values
// anywhere are scrubbed of key-shaped substrings. The input is returned
// mutated for maps/slices and unchanged otherwise.
func MaskSecrets(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		for key, value := range typed {
			if s, ok := value.(string); ok && secretKey(key) {
				if s != "" {
					typed[key] = Masked
				}
				continue
			}
			typed[key] = MaskSecrets(value)
		}
		return typed
	case []any:
		for i, item := range typed {
			typed[i] = MaskSecrets(item)
		}
		return typed
	case string:
		return apiKeyPattern.ReplaceAllString(typed, Masked)
	default:
		return v
	}
}
