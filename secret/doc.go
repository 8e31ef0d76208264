// Package secret provides a small, dependency-light secret resolution layer
// for provider credentials.
//
// It supports:
//   - Strict environment expansion (see ExpandEnvStrict)
//   - Pluggable secret providers (see Provider, EnvProvider, FileProvider)
//   - Resolving secret references in configuration values (see Resolver)
//
// References use the prefix "secretref:":
//   - Full value:  secretref:env:GEMINI_API_KEY
//   - File-backed: secretref:file:/run/secrets/gemini_key
//   - Inline use:  Bearer secretref:env:GEMINI_API_KEY
package secret
