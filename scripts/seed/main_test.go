package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCompanies(t *testing.T) {
	ids, err := parseCompanies(" 7, 9,,")
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 9}, ids)

	ids, err = parseCompanies("")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = parseCompanies("7,x")
	assert.ErrorContains(t, err, `"x"`)
	_, err = parseCompanies("0")
	assert.Error(t, err)
}
