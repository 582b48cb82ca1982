package lcd

// Flag returns bit pos (0-7) of b.
func Flag(b uint8, pos uint) bool {
	return (b>>pos)&1 == 1
}

// FlagBit is Flag as 0 or 1, the form the display documentation uses.
func FlagBit(b uint8, pos uint) uint8 {
	return (b >> pos) & 1
}
