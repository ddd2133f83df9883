package catalog

// defaults is the built-in model table. Prices are USD per 1000 tokens and
// track the public provider price sheets; operators override via the models
// section of the config file when prices move.
var defaults = []ModelConfig{

	// ─── OpenAI ───────────────────────────────────────────────────────────────
	{ID: "gpt-4", Provider: "openai", ContextWindow: 8192, MaxOutputTokens: 4096,
		CostPer1KInput: 0.03, CostPer1KOutput: 0.06, DefaultTemperature: 0.7},
	{ID: "gpt-4-turbo", Provider: "openai", ContextWindow: 128000, MaxOutputTokens: 4096,
		CostPer1KInput: 0.01, CostPer1KOutput: 0.03, DefaultTemperature: 0.7},
	{ID: "gpt-4o", Provider: "openai", ContextWindow: 128000, MaxOutputTokens: 16384,
		CostPer1KInput: 0.0025, CostPer1KOutput: 0.01, DefaultTemperature: 0.7},
	{ID: "gpt-4o-mini", Provider: "openai", ContextWindow: 128000, MaxOutputTokens: 16384,
		CostPer1KInput: 0.00015, CostPer1KOutput: 0.0006, DefaultTemperature: 0.7},
	{ID: "gpt-4.1", Provider: "openai", ContextWindow: 1047576, MaxOutputTokens: 32768,
		CostPer1KInput: 0.002, CostPer1KOutput: 0.008, DefaultTemperature: 0.7},
	{ID: "gpt-4.1-mini", Provider: "openai", ContextWindow: 1047576, MaxOutputTokens: 32768,
		CostPer1KInput: 0.0004, CostPer1KOutput: 0.0016, DefaultTemperature: 0.7},
	{ID: "gpt-3.5-turbo", Provider: "openai", ContextWindow: 16385, MaxOutputTokens: 4096,
		CostPer1KInput: 0.0005, CostPer1KOutput: 0.0015, DefaultTemperature: 0.7},
	{ID: "o3-mini", Provider: "openai", ContextWindow: 200000, MaxOutputTokens: 100000,
		CostPer1KInput: 0.0011, CostPer1KOutput: 0.0044},

	// ─── Anthropic ────────────────────────────────────────────────────────────
	{ID: "claude-3-5-sonnet-20241022", Provider: "anthropic", ContextWindow: 200000, MaxOutputTokens: 8192,
		CostPer1KInput: 0.003, CostPer1KOutput: 0.015, DefaultTemperature: 1.0},
	{ID: "claude-3-5-haiku-20241022", Provider: "anthropic", ContextWindow: 200000, MaxOutputTokens: 8192,
		CostPer1KInput: 0.0008, CostPer1KOutput: 0.004, DefaultTemperature: 1.0},
	{ID: "claude-3-opus-20240229", Provider: "anthropic", ContextWindow: 200000, MaxOutputTokens: 4096,
		CostPer1KInput: 0.015, CostPer1KOutput: 0.075, DefaultTemperature: 1.0},
	{ID: "claude-3-haiku-20240307", Provider: "anthropic", ContextWindow: 200000, MaxOutputTokens: 4096,
		CostPer1KInput: 0.00025, CostPer1KOutput: 0.00125, DefaultTemperature: 1.0},
	{ID: "claude-sonnet-4-20250514", Provider: "anthropic", ContextWindow: 200000, MaxOutputTokens: 64000,
		CostPer1KInput: 0.003, CostPer1KOutput: 0.015, DefaultTemperature: 1.0},

	// ─── Google Gemini ────────────────────────────────────────────────────────
	{ID: "gemini-1.5-pro", Provider: "gemini", ContextWindow: 2097152, MaxOutputTokens: 8192,
		CostPer1KInput: 0.00125, CostPer1KOutput: 0.005, DefaultTemperature: 1.0},
	{ID: "gemini-1.5-flash", Provider: "gemini", ContextWindow: 1048576, MaxOutputTokens: 8192,
		CostPer1KInput: 0.000075, CostPer1KOutput: 0.0003, DefaultTemperature: 1.0},
	{ID: "gemini-2.0-flash", Provider: "gemini", ContextWindow: 1048576, MaxOutputTokens: 8192,
		CostPer1KInput: 0.0001, CostPer1KOutput: 0.0004, DefaultTemperature: 1.0},
	{ID: "gemini-2.5-pro", Provider: "gemini", ContextWindow: 1048576, MaxOutputTokens: 65536,
		CostPer1KInput: 0.00125, CostPer1KOutput: 0.01, DefaultTemperature: 1.0},

	// ─── xAI (Grok) ───────────────────────────────────────────────────────────
	{ID: "grok-3", Provider: "xai", ContextWindow: 131072, MaxOutputTokens: 8192,
		CostPer1KInput: 0.003, CostPer1KOutput: 0.015, DefaultTemperature: 0.7},
	{ID: "grok-3-mini", Provider: "xai", ContextWindow: 131072, MaxOutputTokens: 8192,
		CostPer1KInput: 0.0003, CostPer1KOutput: 0.0005, DefaultTemperature: 0.7},

	// ─── DeepSeek ─────────────────────────────────────────────────────────────
	{ID: "deepseek-chat", Provider: "deepseek", ContextWindow: 65536, MaxOutputTokens: 8192,
		CostPer1KInput: 0.00027, CostPer1KOutput: 0.0011, DefaultTemperature: 1.0},
	{ID: "deepseek-reasoner", Provider: "deepseek", ContextWindow: 65536, MaxOutputTokens: 65536,
		CostPer1KInput: 0.00055, CostPer1KOutput: 0.00219, DefaultTemperature: 1.0},

	// ─── Groq ─────────────────────────────────────────────────────────────────
	{ID: "llama-3.3-70b-versatile", Provider: "groq", ContextWindow: 131072, MaxOutputTokens: 32768,
		CostPer1KInput: 0.00059, CostPer1KOutput: 0.00079, DefaultTemperature: 0.7},
	{ID: "llama-3.1-8b-instant", Provider: "groq", ContextWindow: 131072, MaxOutputTokens: 8192,
		CostPer1KInput: 0.00005, CostPer1KOutput: 0.00008, DefaultTemperature: 0.7},

	// ─── Embeddings ───────────────────────────────────────────────────────────
	{ID: "text-embedding-3-small", Provider: "openai", ContextWindow: 8191,
		CostPer1KInput: 0.00002, Embedding: true},
	{ID: "text-embedding-3-large", Provider: "openai", ContextWindow: 8191,
		CostPer1KInput: 0.00013, Embedding: true},
	{ID: "text-embedding-004", Provider: "gemini", ContextWindow: 2048,
		CostPer1KInput: 0.00001, Embedding: true},
}
