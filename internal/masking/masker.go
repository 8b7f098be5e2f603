package masking

// Masker is a structural masker: one that has to parse an MCP tool result
// (kubectl output, API dumps) rather than pattern-match it, because whether
// a value is sensitive depends on what kind of document it sits in. Regex
// patterns can't tell a Secret's data block from a ConfigMap's; a Masker
// can.
//
// Maskers registered under config.GetBuiltinConfig().CodeMaskers run after
// the regex pass in MaskToolResult, keyed by Name.
type Masker interface {
	// Name keys this masker in the built-in CodeMaskers registry and in
	// MCP server data_masking configs.
	Name() string

	// AppliesTo is the cheap pre-filter run on every tool result: a
	// substring sniff, never a parse. Returning false skips Mask entirely.
	AppliesTo(data string) bool

	// Mask parses and redacts. It must fail open: any parse or
	// re-serialization problem returns the input unchanged, since a
	// half-mangled tool result is worse for the agent loop than an
	// unmasked one the regex pass already scrubbed.
	Mask(data string) string
}
