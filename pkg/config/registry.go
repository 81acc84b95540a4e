package config

// Persistent state keys (Registry)
const (
	KeyGeminiAPIKey     = "gemini_api_key"
	KeyImageAspectRatio = "image_aspect_ratio"
	KeyImageCount       = "image_count"
	KeyImageMIMEType    = "image_mime_type"
	KeyPollInterval     = "poll_interval"
)
