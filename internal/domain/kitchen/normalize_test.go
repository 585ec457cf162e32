package kitchen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Burger", "Burger"},
		{"Crème", "Creme"},
		{"Jalapeño Poppers", "Jalapeno Poppers"},
		{"Café au lait", "Cafe au lait"},
		{"Straße Wurst", "Strasse Wurst"},
		{"Chef’s Special", "Chef's Special"},
		{"Smørrebrød", "Smorrebrod"},
		{"Pho 🍜", "Pho "},
		{"拉面", ""},
		{"Tab\tSeparated", "Tab Separated"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := NormalizeName(tt.in)
			assert.Equal(t, tt.want, got)
			assert.True(t, isPrintableASCII(got))
		})
	}
}

func TestNormalizeName_InvalidUTF8(t *testing.T) {
	got := NormalizeName("Bad\xffByte")
	assert.Equal(t, "BadByte", got)
}
