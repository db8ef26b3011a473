package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLuhn(t *testing.T) {
	assert.True(t, luhn("4111111111111111"))
	assert.True(t, luhn("4111-1111-1111-1111"))
	assert.True(t, luhn("5500 0000 0000 0004"))
	assert.False(t, luhn("4111111111111112"))
	assert.False(t, luhn("1234"))           // too short
	assert.False(t, luhn("4111x111111111111")) // non-digit
}

func TestValidSSN(t *testing.T) {
	assert.True(t, validSSN("123-45-6789"))
	assert.True(t, validSSN("123456789"))

	assert.False(t, validSSN("000-12-3456")) // area 000
	assert.False(t, validSSN("666-12-3456")) // area 666
	assert.False(t, validSSN("912-34-5678")) // area 9xx
	assert.False(t, validSSN("123-00-4567")) // group 00
	assert.False(t, validSSN("123-45-0000")) // serial 0000
	assert.False(t, validSSN("12345678"))
}

func TestValidABA(t *testing.T) {
	assert.True(t, validABA("021000021"))
	assert.True(t, validABA("011401533"))
	assert.False(t, validABA("123456789"))
	assert.False(t, validABA("02100002"))
}

func TestValidIBAN(t *testing.T) {
	assert.True(t, validIBAN("GB82WEST12345698765432"))
	assert.True(t, validIBAN("DE89370400440532013000"))
	assert.True(t, validIBAN("GB82 WEST 1234 5698 7654 32"))
	assert.False(t, validIBAN("GB82WEST12345698765431"))
	assert.False(t, validIBAN("GB82"))
}

func TestValidNPI(t *testing.T) {
	assert.True(t, validNPI("1234567893"))
	assert.False(t, validNPI("1234567890"))
	assert.False(t, validNPI("123456789"))
}

func TestValidVIN(t *testing.T) {
	assert.True(t, validVIN("1HGCM82633A004352"))
	assert.False(t, validVIN("1HGCM82634A004352")) // checksum mismatch
	assert.False(t, validVIN("1HGCM8263"))
	assert.False(t, validVIN("1HGCM82633A00435O")) // O is not a VIN char
}
