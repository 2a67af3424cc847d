package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseBorrowStatus(t *testing.T) {
	cases := []struct {
		in   string
		want BorrowStatus
	}{
		{"EASY", BorrowStatusEasy},
		{"easy_to_borrow", BorrowStatusEasy},
		{"Medium", BorrowStatusMedium},
		{"MEDIUM_TO_BORROW", BorrowStatusMedium},
		{"hard", BorrowStatusHard},
		{"HARD_TO_BORROW", BorrowStatusHard},
		{" easy ", BorrowStatusEasy},
		{"", BorrowStatusHard},
		{"NO_IDEA", BorrowStatusHard},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ParseBorrowStatus(tc.in), "ParseBorrowStatus(%q)", tc.in)
	}
}

func TestParseFeeType(t *testing.T) {
	ft, ok := ParseFeeType("flat")
	assert.True(t, ok)
	assert.Equal(t, FeeTypeFlat, ft)

	ft, ok = ParseFeeType("PERCENTAGE")
	assert.True(t, ok)
	assert.Equal(t, FeeTypePercentage, ft)

	_, ok = ParseFeeType("per-share")
	assert.False(t, ok)
}
