package emu

// dmgPalettes holds a handful of classic 4-shade DMG color themes,
// indexed by the same palette IDs compat_tables.go's title heuristics
// already produce. Index 0 (Green) is the default "as on hardware"
// look; the rest are purely cosmetic host-side theming, picked
// automatically from the ROM header and overridable via
// SetCompatPalette/CycleCompatPalette.
var dmgPalettes = [][4][3]byte{
	{{155, 188, 15}, {139, 172, 15}, {48, 98, 48}, {15, 56, 15}},       // 0: Green (classic DMG)
	{{222, 196, 160}, {173, 140, 110}, {110, 80, 60}, {50, 34, 24}},    // 1: Sepia
	{{224, 248, 255}, {148, 196, 232}, {88, 128, 192}, {24, 40, 96}},   // 2: Blue
	{{255, 224, 200}, {224, 128, 96}, {160, 56, 48}, {64, 16, 16}},     // 3: Red accent
	{{255, 240, 245}, {230, 200, 220}, {170, 140, 190}, {90, 70, 110}}, // 4: Pastel
	{{255, 255, 255}, {170, 170, 170}, {85, 85, 85}, {0, 0, 0}},        // 5: Grey
}

func paletteName(id int) string {
	names := []string{"Green", "Sepia", "Blue", "Red", "Pastel", "Grey"}
	if id < 0 || id >= len(names) {
		return "Green"
	}
	return names[id]
}

func normalizePaletteID(id int) int {
	n := len(dmgPalettes)
	id %= n
	if id < 0 {
		id += n
	}
	return id
}
