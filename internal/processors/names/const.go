package names

// Stage types accepted in [processors.<name>] type.
const (
	Sanitize          = "sanitize"
	ExtractFields     = "extract_fields"
	ExtractText       = "extract_text"
	KeywordFilter     = "filter_keyword"
	PublishedAtFilter = "filter_published_at"
	Dedupe            = "dedupe"
	Validate          = "validate"
	Lua               = "lua"
	Template          = "template"
	Summary           = "summary"
)
