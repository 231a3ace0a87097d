package anthropic

// BuildCachedSystemBlocks returns the system prompt as a single block with a
// cache breakpoint. Every intro in a run shares the same system prompt, so
// concurrent calls after the first read it from cache.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	if text == "" {
		return nil
	}
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: ttl},
		},
	}
}
