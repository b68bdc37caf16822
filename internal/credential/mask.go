package credential

// Mask returns a log-safe form of an API key, keeping just enough of the
// prefix and suffix to tell two keys apart.
// Example: AIzaSyC9...z123
func Mask(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	if len(key) < 16 {
		return key[:4] + "..." + key[len(key)-4:]
	}
	return key[:8] + "..." + key[len(key)-4:]
}
