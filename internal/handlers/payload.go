package handlers

import "fmt"

// payloadString extracts a required string field from a decoded event
// payload, erroring (non-retriable: a malformed payload will never become
// well-formed on redelivery) when it is missing or the wrong type.
func payloadString(payload map[string]interface{}, key string) (string, error) {
	v, ok := payload[key]
	if !ok {
		return "", fmt.Errorf("missing payload field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("payload field %q is not a string", key)
	}
	return s, nil
}

// payloadStringOr returns a string field or a fallback when absent.
func payloadStringOr(payload map[string]interface{}, key, fallback string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return fallback
}
