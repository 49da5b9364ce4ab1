package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseNZB_RejectsGarbageInput(t *testing.T) {
	_, err := ParseNZB(strings.NewReader("not an nzb document"))
	assert.Error(t, err)
}

func TestParseNZB_RejectsEmptyInput(t *testing.T) {
	_, err := ParseNZB(strings.NewReader(""))
	assert.Error(t, err)
}
