package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "defaults",
			cfg:  Config{},
		},
		{
			name: "json debug",
			cfg:  Config{Level: "debug", Format: "json"},
		},
		{
			name:    "bad level",
			cfg:     Config{Level: "verbose"},
			wantErr: true,
		},
		{
			name:    "bad format",
			cfg:     Config{Format: "xml"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "json")

	l, err := NewFromEnv()
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestWithFields(t *testing.T) {
	l := NewNop()
	child := l.WithFields("story", "auth/login")
	assert.NotNil(t, child)
	// Must not panic
	child.Info("message", "key", "value")
}
