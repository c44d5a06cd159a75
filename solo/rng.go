package solo

// xmur3 hashes a string into a 32-bit seed generator.
func xmur3(s string) func() uint32 {
	units := utf16Units(s)
	h := uint32(1779033703) ^ uint32(len(units))
	for _, u := range units {
		h = (h ^ uint32(u)) * 3432918353
		h = h<<13 | h>>19
	}
	return func() uint32 {
		h = (h ^ h>>16) * 2246822507
		h = (h ^ h>>13) * 3266489909
		h ^= h >> 16
		return h
	}
}

// mulberry32 returns floats in [0, 1).
func mulberry32(a uint32) func() float64 {
	return func() float64 {
		a += 0x6D2B79F5
		t := (a ^ a>>15) * (1 | a)
		t = (t + (t^t>>7)*(61|t)) ^ t
		return float64(t^t>>14) / 4294967296
	}
}

// Rand is a deterministic generator seeded from a string.
type Rand func() float64

func NewRand(seed string) Rand {
	return Rand(mulberry32(xmur3(seed)()))
}

// Intn returns an int in [0, n).
func (r Rand) Intn(n int) int {
	return int(r() * float64(n))
}

// utf16Units matches the character codes browsers hash, so permalinks
// made by the web client draw the same card here.
func utf16Units(s string) []uint16 {
	var out []uint16
	for _, r := range s {
		if r >= 0x10000 {
			r -= 0x10000
			out = append(out, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
			continue
		}
		out = append(out, uint16(r))
	}
	return out
}
