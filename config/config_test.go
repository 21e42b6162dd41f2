package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 50, cfg.MessagePageSize, "expected default page size of 50")
	assert.Equal(t, 10*time.Minute, cfg.InactivityThreshold)
	assert.Equal(t, time.Hour, cfg.NotifyCooldown)
	assert.Equal(t, "none", cfg.MediaProvider)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("MESSAGE_PAGE_SIZE", "20")
	t.Setenv("INACTIVITY_THRESHOLD", "90s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.MessagePageSize)
	assert.Equal(t, 90*time.Second, cfg.InactivityThreshold)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestValidate(t *testing.T) {
	tcases := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{
			name:    "missing jwt secret",
			env:     map[string]string{"JWT_SECRET": "", "STORE_DRIVER": "memory"},
			wantErr: true,
		},
		{
			name:    "mongo without uri",
			env:     map[string]string{"JWT_SECRET": "s", "STORE_DRIVER": "mongo", "MONGODB_URI": ""},
			wantErr: true,
		},
		{
			name:    "mongo with uri",
			env:     map[string]string{"JWT_SECRET": "s", "STORE_DRIVER": "mongo", "MONGODB_URI": "mongodb://localhost:27017"},
			wantErr: false,
		},
		{
			name:    "unknown store driver",
			env:     map[string]string{"JWT_SECRET": "s", "STORE_DRIVER": "postgres"},
			wantErr: true,
		},
		{
			name:    "cloudinary without url",
			env:     map[string]string{"JWT_SECRET": "s", "STORE_DRIVER": "memory", "MEDIA_PROVIDER": "cloudinary", "CLOUDINARY_URL": ""},
			wantErr: true,
		},
		{
			name:    "s3 with bucket",
			env:     map[string]string{"JWT_SECRET": "s", "STORE_DRIVER": "memory", "MEDIA_PROVIDER": "s3", "S3_BUCKET": "attachments"},
			wantErr: false,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if tc.wantErr {
				assert.Error(t, err, "expected a validation error")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
