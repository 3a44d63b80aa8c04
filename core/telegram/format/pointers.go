package format

// DerefString safely dereferences a *string and returns a default value if nil.
func DerefString(s *string, defaultVal string) string {
	if s != nil {
		return *s
	}
	return defaultVal
}

// DerefInt safely dereferences a *int and returns a default value if nil.
func DerefInt(i *int, defaultVal int) int {
	if i != nil {
		return *i
	}
	return defaultVal
}

// DerefBool safely dereferences a *bool and returns a default value if nil.
func DerefBool(b *bool, defaultVal bool) bool {
	if b != nil {
		return *b
	}
	return defaultVal
}
