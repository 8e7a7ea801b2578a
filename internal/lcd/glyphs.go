package lcd

// Glyphs is the bar-graph set uploaded to the 8 custom character slots of the LCD.
// Glyph i fills the bottom i+1 pixel rows.
var Glyphs = [8][8]byte{
	{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff},
	{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0xff},
	{0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff},
	{0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0xff},
	{0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0xff, 0xff},
	{0x00, 0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
	{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
	{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
}

// GlyphUploader is implemented by displays that accept custom characters.
type GlyphUploader interface {
	SetCustomCharacter(index uint8, pattern [8]byte) error
}

// UploadGlyphs writes the whole table, stopping at the first error.
func UploadGlyphs(u GlyphUploader) error {
	for i, g := range Glyphs {
		if err := u.SetCustomCharacter(uint8(i), g); err != nil {
			return err
		}
	}
	return nil
}
