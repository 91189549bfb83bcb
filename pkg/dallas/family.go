package dallas

import (
	"fmt"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/onewire"
)

// Family is the device type code stored in the low byte of a ROM id.
type Family byte

// Known device families.
const (
	FamilyDS18S20 Family = 0x10
	FamilyDS2450  Family = 0x20
	FamilyDS18B20 Family = 0x28
	FamilyDS2408  Family = 0x29
)

// AllDevices addresses every device of a family at once (skip ROM).
const AllDevices onewire.Address = 0

func (f Family) String() string {
	switch f {
	case FamilyDS2408:
		return "DS2408"
	case FamilyDS2450:
		return "DS2450"
	case FamilyDS18B20:
		return "DS18B20"
	case FamilyDS18S20:
		return "DS18S20"
	default:
		return fmt.Sprintf("0x%02x", byte(f))
	}
}

// FamilyOf returns the family code of a ROM id.
func FamilyOf(a onewire.Address) Family {
	return Family(a & 0xFF)
}

// RomString formats a ROM id as crc-serial-family, e.g. "3a-0000012345ab-28".
func RomString(a onewire.Address) string {
	return fmt.Sprintf("%02x-%012x-%02x", byte(a>>56), uint64(a>>8)&0xFFFFFFFFFFFF, byte(a))
}

// ParseRom is the inverse of RomString.
func ParseRom(s string) (onewire.Address, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 || len(parts[0]) != 2 || len(parts[1]) != 12 || len(parts[2]) != 2 {
		return 0, fmt.Errorf("invalid ROM id %q", s)
	}
	crc, err := strconv.ParseUint(parts[0], 16, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid ROM id %q: %w", s, err)
	}
	serial, err := strconv.ParseUint(parts[1], 16, 48)
	if err != nil {
		return 0, fmt.Errorf("invalid ROM id %q: %w", s, err)
	}
	family, err := strconv.ParseUint(parts[2], 16, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid ROM id %q: %w", s, err)
	}
	return onewire.Address(crc<<56 | serial<<8 | family), nil
}

// MakeRom builds a ROM id with a valid CRC byte from a family and a 48-bit serial.
func MakeRom(f Family, serial uint64) onewire.Address {
	var b [8]byte
	b[0] = byte(f)
	for i := 1; i < 7; i++ {
		b[i] = byte(serial >> (8 * (i - 1)))
	}
	b[7] = onewire.CalcCRC(b[:7])
	var a onewire.Address
	for i := 7; i >= 0; i-- {
		a = a<<8 | onewire.Address(b[i])
	}
	return a
}
