package main

import (
	"fmt"
	"strconv"
)

// parsePositiveInt overwrites dst when raw is a positive integer; an empty
// raw keeps the default.
func parsePositiveInt(raw string, dst *int) error {
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fmt.Errorf("invalid positive integer %q", raw)
	}
	*dst = v
	return nil
}
