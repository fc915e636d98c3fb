// Secret holder for API credentials.
//
// DESIGN: The only way to get the plaintext out of a Secret is
// Reveal(). String, GoString, JSON and YAML marshalling all produce a
// redaction marker, so a credential cannot leak through log fields,
// %v formatting or serialized config dumps. Call Reveal() at the last
// possible moment (header construction) and nowhere else.
package config

import "gopkg.in/yaml.v3"

const redacted = "**REDACTED**"

// Secret holds a credential that must never appear in logs or output.
type Secret struct {
	value string
}

// NewSecret wraps a plaintext credential.
func NewSecret(value string) Secret {
	return Secret{value: value}
}

// Reveal returns the plaintext credential. This is the single
// extraction path; do not store the result.
func (s Secret) Reveal() string {
	return s.value
}

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool {
	return s.value == ""
}

// String implements fmt.Stringer with a redaction marker.
func (s Secret) String() string {
	return redacted
}

// GoString hides the value from %#v formatting.
func (s Secret) GoString() string {
	return "config.Secret{" + redacted + "}"
}

// MarshalJSON always emits the redaction marker.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// UnmarshalYAML reads the plaintext value from config.
func (s *Secret) UnmarshalYAML(node *yaml.Node) error {
	return node.Decode(&s.value)
}

// MarshalYAML always emits the redaction marker.
func (s Secret) MarshalYAML() (any, error) {
	return redacted, nil
}
