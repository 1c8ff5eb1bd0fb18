package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseList(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   []string
	}{
		{"pipe", []string{"users.view|users.edit"}, []string{"users.view", "users.edit"}},
		{"comma", []string{"users.view, users.edit"}, []string{"users.view", "users.edit"}},
		{"mixed union", []string{"a|b,c", "c", " b "}, []string{"a", "b", "c"}},
		{"drops empties", []string{"", " | ,", "x"}, []string{"x"}},
		{"nothing", nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseList(tt.values...))
		})
	}
}

func TestParsePermissionList(t *testing.T) {
	names, err := ParsePermissionList("users.view|roles.edit")
	require.NoError(t, err)
	assert.Equal(t, []string{"users.view", "roles.edit"}, names)

	_, err = ParsePermissionList("users.view,Users.Edit")
	assert.ErrorIs(t, err, ErrInvalidPermissionFormat)
}
