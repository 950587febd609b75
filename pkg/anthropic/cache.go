package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint. Extraction calls over one document share the same long
// context preamble, so every call after the first reads it from cache.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	if text == "" {
		return nil
	}
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "5m",
			},
		},
	}
}
