package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "urgent", NormalizeLabel("  Urgent  "))
	assert.Equal(t, "", NormalizeLabel("   "))
}

func TestNormalizeLabelsSortsDedupesAndDropsEmpty(t *testing.T) {
	in := []string{"Urgent", " urgent", "", "Low-Priority", "low-priority", "Archive"}
	got := NormalizeLabels(in)
	assert.Equal(t, []string{"archive", "low-priority", "urgent"}, got)
}
