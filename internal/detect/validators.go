package detect

import (
	"strings"
	"unicode"
)

// luhn runs the standard mod-10 check over the digits of s, ignoring
// spaces and dashes.
func luhn(s string) bool {
	var digits []int
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits = append(digits, int(r-'0'))
		} else if r != ' ' && r != '-' {
			return false
		}
	}
	if len(digits) < 12 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// validSSN applies the SSA format rules: no 000/666/9xx area, no 00
// group, no 0000 serial.
func validSSN(s string) bool {
	digits := digitsOnly(s)
	if len(digits) != 9 {
		return false
	}
	area := digits[:3]
	group := digits[3:5]
	serial := digits[5:]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	if group == "00" || serial == "0000" {
		return false
	}
	return true
}

// validABA checks the routing-number checksum (3-7-1 weights).
func validABA(s string) bool {
	digits := digitsOnly(s)
	if len(digits) != 9 {
		return false
	}
	sum := 0
	weights := []int{3, 7, 1, 3, 7, 1, 3, 7, 1}
	for i, w := range weights {
		sum += int(digits[i]-'0') * w
	}
	return sum != 0 && sum%10 == 0
}

// validIBAN runs the ISO 13616 mod-97 check.
func validIBAN(s string) bool {
	iban := strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(s, " ", ""), "-", ""))
	if len(iban) < 15 || len(iban) > 34 {
		return false
	}
	rearranged := iban[4:] + iban[:4]
	rem := 0
	for _, r := range rearranged {
		var v int
		switch {
		case r >= '0' && r <= '9':
			v = int(r - '0')
		case r >= 'A' && r <= 'Z':
			v = int(r-'A') + 10
		default:
			return false
		}
		if v < 10 {
			rem = (rem*10 + v) % 97
		} else {
			rem = (rem*100 + v) % 97
		}
	}
	return rem == 1
}

// vinTransliteration per ISO 3779; I, O and Q are not valid VIN chars.
var vinValues = map[rune]int{
	'A': 1, 'B': 2, 'C': 3, 'D': 4, 'E': 5, 'F': 6, 'G': 7, 'H': 8,
	'J': 1, 'K': 2, 'L': 3, 'M': 4, 'N': 5, 'P': 7, 'R': 9,
	'S': 2, 'T': 3, 'U': 4, 'V': 5, 'W': 6, 'X': 7, 'Y': 8, 'Z': 9,
}

var vinWeights = []int{8, 7, 6, 5, 4, 3, 2, 10, 0, 9, 8, 7, 6, 5, 4, 3, 2}

// validVIN checks the position-9 check digit.
func validVIN(s string) bool {
	vin := strings.ToUpper(s)
	if len(vin) != 17 {
		return false
	}
	sum := 0
	for i, r := range vin {
		var v int
		switch {
		case r >= '0' && r <= '9':
			v = int(r - '0')
		default:
			var ok bool
			v, ok = vinValues[r]
			if !ok {
				return false
			}
		}
		sum += v * vinWeights[i]
	}
	check := sum % 11
	want := vin[8]
	if check == 10 {
		return want == 'X'
	}
	return want == byte('0'+check)
}

// validNPI is Luhn with the NPI "80840" prefix folded in, per CMS.
func validNPI(s string) bool {
	digits := digitsOnly(s)
	if len(digits) != 10 {
		return false
	}
	return luhn("80840" + digits)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
