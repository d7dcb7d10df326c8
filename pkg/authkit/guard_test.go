package authkit_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridianabroad/portal/pkg/authkit"
)

func TestCanEnter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		state authkit.State
		want  bool
	}{
		{
			name:  "anonymous",
			state: authkit.State{},
			want:  false,
		},
		{
			name: "plain user without step-up flag",
			state: authkit.State{
				User:  &authkit.Principal{ID: "u-1"},
				Token: "tok",
			},
			want: true,
		},
		{
			name: "mfa user pending step-up",
			state: authkit.State{
				User:  &authkit.Principal{ID: "u-2", MFAEnabled: true},
				Token: "tok",
			},
			want: false,
		},
		{
			name: "mfa user verified",
			state: authkit.State{
				User:        &authkit.Principal{ID: "u-2", MFAEnabled: true},
				Token:       "tok",
				MFAVerified: true,
			},
			want: true,
		},
		{
			name: "stray verified flag without user",
			state: authkit.State{
				MFAVerified: true,
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, authkit.CanEnter(tt.state))
		})
	}
}
