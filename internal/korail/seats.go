package korail

import "strings"

// Reservation codes reported in h_gen_rsv_cd / h_spe_rsv_cd. "11" and "13"
// mean seats are present, "00" means sold out. Any other value is undocumented
// and treated as sold out; the client logs it for investigation.
const (
	rsvCodeSoldOut    = "00"
	rsvCodeAvailable  = "11"
	rsvCodeAvailable2 = "13"
)

var (
	// Name fragments that contradict an "available" reservation code.
	soldOutWords = []string{"매진", "대기", "마감", "없음"}
	// Name fragments meaning "plenty of seats" with no exact count.
	plentyWords = []string{"많음", "충분", "가능"}
)

// plentySeats is the count reported when the endpoint says seats are abundant
// without giving a number.
const plentySeats = 99

// seatCount derives a seat count from a reservation code and its display name.
// The code is authoritative for availability; the name refines the count. A
// name that contradicts an available code (매진 etc.) wins and yields zero.
func seatCount(code, name string) int {
	if code != rsvCodeAvailable && code != rsvCodeAvailable2 {
		return 0
	}
	if containsAny(name, soldOutWords) {
		return 0
	}
	if containsAny(name, plentyWords) {
		return plentySeats
	}
	if n, ok := firstDigits(name); ok {
		return n
	}
	return 1
}

// knownRsvCode reports whether code is one of the documented values.
func knownRsvCode(code string) bool {
	return code == rsvCodeSoldOut || code == rsvCodeAvailable || code == rsvCodeAvailable2
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// firstDigits parses the first run of ASCII digits in s, e.g. "5석" → 5.
func firstDigits(s string) (int, bool) {
	n, found := 0, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' {
			n = n*10 + int(c-'0')
			found = true
			continue
		}
		if found {
			break
		}
	}
	return n, found
}
