package mailing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstitute_RoundTrip(t *testing.T) {
	vars := map[string]string{"first_name": "Ann", "company": "Acme"}

	out, err := Substitute("Hi {{ first_name }}, welcome to {{company}}!", vars)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ann, welcome to Acme!", out)
}

func TestSubstitute_NoTokens(t *testing.T) {
	out, err := Substitute("plain text", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)
}

func TestSubstitute_Unresolved(t *testing.T) {
	_, err := Substitute("Hi {{ first_name }}, your {{ plan }} ends {{ plan_end }}", map[string]string{"first_name": "Ann"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolvedVariable)
	var uv *UnresolvedVariableError
	require.True(t, errors.As(err, &uv))
	assert.Equal(t, []string{"plan", "plan_end"}, uv.Names)
	assert.True(t, uv.ConfigurationError())
}

func TestSubstitute_DefaultFilterAllowsMissing(t *testing.T) {
	out, err := Substitute(`Hi {{ first_name | default: "Friend" }}`, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "Hi Friend", out)

	out, err = Substitute(`Hi {{ first_name | default: "Friend" }}`, map[string]string{"first_name": "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ann", out)
}

func TestSubstitute_Filters(t *testing.T) {
	ts := NewTemplateService()
	vars := map[string]string{"name": "ann LEE", "email": "ann@example.com", "bio": "a very long biography"}

	out, err := ts.Substitute("{{ name | titlecase }}|{{ email | email_domain }}|{{ bio | truncate: 10 }}|{{ email | urlencode }}", vars)
	require.NoError(t, err)
	assert.Equal(t, "Ann Lee|example.com|a very ...|ann%40example.com", out)
}

func TestUnresolvedVariables_NestedUsesRoot(t *testing.T) {
	missing := UnresolvedVariables("{{ company.name }} {{ forloop.index }} {{ other.x }}", map[string]string{"company": "x"})
	assert.Equal(t, []string{"other.x"}, missing)
}
