package geo

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestRemoveSuccessiveDuplicates(t *testing.T) {
	p := Point{Latitude: 47.501303, Longitude: 27.362475}
	q := Point{Latitude: 47.501403, Longitude: 27.362475}
	r := Point{Latitude: 47.501503, Longitude: 27.362475}

	tests := []struct {
		name     string
		input    []Point
		expected []Point
	}{
		{name: "empty", input: []Point{}, expected: []Point{}},
		{name: "singleton", input: []Point{p}, expected: []Point{p}},
		{name: "no duplicates", input: []Point{p, q, r}, expected: []Point{p, q, r}},
		{name: "adjacent run", input: []Point{p, q, q, q, r}, expected: []Point{p, q, r}},
		{name: "all equal", input: []Point{p, p, p}, expected: []Point{p}},
		{name: "non-adjacent repeat kept", input: []Point{p, q, p}, expected: []Point{p, q, p}},
		{name: "same latitude different longitude kept", input: []Point{p, {Latitude: p.Latitude, Longitude: 27.4}}, expected: []Point{p, {Latitude: p.Latitude, Longitude: 27.4}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RemoveSuccessiveDuplicates(tt.input)
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("RemoveSuccessiveDuplicates() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRemoveSuccessiveDuplicates_Idempotent(t *testing.T) {
	p := Point{Latitude: 1, Longitude: 1}
	q := Point{Latitude: 2, Longitude: 2}
	input := []Point{p, p, q, q, p, q, q, q, p}

	once := RemoveSuccessiveDuplicates(input)
	twice := RemoveSuccessiveDuplicates(once)

	assert.Equal(t, once, twice)
	assert.Equal(t, []Point{p, q, p, q, p}, once)
}
