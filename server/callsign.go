package server

import "math/rand"

// GenerateCallsign 生成人类可读的呼号：3 个大写字母 + '-' + 5 个字母或数字，如 "KXV-4A9Q2"
func GenerateCallsign(rng *rand.Rand) string {
	letter := func() byte { return byte('A' + rng.Intn(26)) }

	b := make([]byte, 0, 9)
	for i := 0; i < 3; i++ {
		b = append(b, letter())
	}
	b = append(b, '-')
	for i := 0; i < 5; i++ {
		if rng.Intn(2) == 0 {
			b = append(b, letter())
		} else {
			b = append(b, byte('0'+rng.Intn(10)))
		}
	}
	return string(b)
}
