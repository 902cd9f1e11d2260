package display

// Glyphs of code page 437 for the control range and the upper half. The
// printable ASCII range maps to itself.
const (
	cp437Control = "☺☻♥♦♣♠•◘○◙♂♀♪♫☼►◄↕‼¶§▬↨↑↓→←∟↔▲▼"
	cp437High    = "ÇüéâäàåçêëèïîìÄÅÉæÆôöòûùÿÖÜ¢£¥₧ƒáíóúñÑªº¿⌐¬½¼¡«»" +
		"░▒▓│┤╡╢╖╕╣║╗╝╜╛┐└┴┬├─┼╞╟╚╔╩╦╠═╬╧╨╤╥╙╘╒╓╫╪┘┌█▄▌▐▀" +
		"αßΓπΣσµτΦΘΩδ∞φε∩≡±≥≤⌠⌡÷≈°∙·√ⁿ²■ "
)

var cp437 = func() (table [256]rune) {
	table[0] = ' '
	for i, r := range []rune(cp437Control) {
		table[1+i] = r
	}
	for i := 0x20; i < 0x7F; i++ {
		table[i] = rune(i)
	}
	table[0x7F] = '⌂'
	for i, r := range []rune(cp437High) {
		table[0x80+i] = r
	}
	return table
}()

// Glyph returns the rune drawn for character byte ch. NUL draws as a space.
func Glyph(ch byte) rune { return cp437[ch] }
