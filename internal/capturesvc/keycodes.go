package capturesvc

// uiohook virtual key codes for the hotkeys the escape gesture may be bound
// to. gohook reports these in Event.Keycode regardless of platform.
var hotkeyCodes = map[string]uint16{
	"esc": 0x0001,
	"f1":  0x003b,
	"f2":  0x003c,
	"f3":  0x003d,
	"f4":  0x003e,
	"f5":  0x003f,
	"f6":  0x0040,
	"f7":  0x0041,
	"f8":  0x0042,
	"f9":  0x0043,
	"f10": 0x0044,
	"f11": 0x0057,
	"f12": 0x0058,
}

// HotkeyCode resolves a hotkey name to its virtual key code.
func HotkeyCode(name string) (uint16, bool) {
	code, ok := hotkeyCodes[name]
	return code, ok
}

// IsHotkey reports whether name is a supported escape hotkey.
func IsHotkey(name string) bool {
	_, ok := hotkeyCodes[name]
	return ok
}
