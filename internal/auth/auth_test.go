package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"Bearer   spaced  ", "spaced", false},
		{"", "", true},
		{"Basic abc", "", true},
		{"Bearer    ", "", true},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		got, err := ExtractBearerToken(req)
		if tt.wantErr {
			assert.Error(t, err, "header %q", tt.header)
			continue
		}
		require.NoError(t, err, "header %q", tt.header)
		assert.Equal(t, tt.want, got)
	}
}

func TestAuthenticate(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "reader", Scopes: []string{ScopeHistory, " ", ScopeEventsRead}},
		{Token: "editor", Scopes: []string{ScopeRulesWrite}},
	}

	p, ok := Authenticate("master", "master", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeRunsWrite))

	p, ok = Authenticate("reader", "master", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeHistory))
	assert.False(t, HasAnyScope(p, ScopeRulesRead))
	assert.Len(t, p.Scopes, 2)

	p, ok = Authenticate("editor", "", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeRulesRead), "rw implies ro")

	_, ok = Authenticate("nope", "master", tokens)
	assert.False(t, ok)
	_, ok = Authenticate("", "", tokens)
	assert.False(t, ok)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{Token: "t"})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "t", p.Token)
}

func TestValidScope(t *testing.T) {
	assert.True(t, ValidScope("rules:rw"))
	assert.True(t, ValidScope(" * "))
	assert.False(t, ValidScope("plugin:ro"))
	assert.True(t, HasAnyScope(Principal{}))
}
