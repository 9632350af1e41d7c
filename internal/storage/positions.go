package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodePositions serialises a position list as comma-separated integers,
// the persisted wire form of the postings.positions column.
func EncodePositions(positions []int) string {
	if len(positions) == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range positions {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(p))
	}
	return b.String()
}

// DecodePositions parses a comma-separated position list.
func DecodePositions(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	positions := make([]int, 0, len(parts))
	for _, part := range parts {
		p, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("parsing position %q: %w", part, err)
		}
		if p < 0 {
			return nil, fmt.Errorf("negative position %d", p)
		}
		positions = append(positions, p)
	}
	return positions, nil
}
