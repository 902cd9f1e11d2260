package display

// InputByte converts a typed character to the byte the guest keyboard
// port delivers. Characters outside Latin-1 are dropped.
func InputByte(r rune) (byte, bool) {
	if r <= 0 || r > 0xFF {
		return 0, false
	}
	if r == '\n' {
		return '\r', true
	}
	return byte(r), true
}
