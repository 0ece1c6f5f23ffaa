package ql

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDirectiveParsesRecognizedParams(t *testing.T) {
	src := "@segment high_spenders ttl=30_minutes refresh=5_minutes use_cached=true z_index=2\neach_row end"
	d, rest, err := ParseDirective(src)
	require.NoError(t, err)
	require.Equal(t, "segment", d.SectionType)
	require.Equal(t, "high_spenders", d.Name)
	require.Equal(t, int64(30*60*1000), d.TTLMs)
	require.Equal(t, int64(5*60*1000), d.RefreshMs)
	require.True(t, d.UseCached)
	require.Equal(t, 2, d.ZIndex)
	require.Equal(t, "30_minutes", d.Params["ttl"])
	require.Equal(t, "each_row end", rest)
}

func TestParseDirectiveAbsentReturnsNilAndUnchangedBody(t *testing.T) {
	src := "each_row\n<< amount\nend"
	d, rest, err := ParseDirective(src)
	require.NoError(t, err)
	require.Nil(t, d)
	require.Equal(t, src, rest)
}

func TestParseDirectiveRejectsMissingName(t *testing.T) {
	_, _, err := ParseDirective("@segment\nend")
	require.Error(t, err)
	require.True(t, ErrSyntax.Is(err))
}

func TestParseDirectiveRejectsMalformedParam(t *testing.T) {
	_, _, err := ParseDirective("@segment s no_equals_sign\nend")
	require.Error(t, err)
	require.True(t, ErrSyntax.Is(err))
}

func TestParseTimeShorthandPlainNumber(t *testing.T) {
	ms, err := ParseTimeShorthand("500")
	require.NoError(t, err)
	require.Equal(t, int64(500), ms)
}

func TestParseTimeShorthandWithUnit(t *testing.T) {
	ms, err := ParseTimeShorthand("2_hours")
	require.NoError(t, err)
	require.Equal(t, int64(2*60*60*1000), ms)
}

func TestParseTimeShorthandInvalid(t *testing.T) {
	_, err := ParseTimeShorthand("not_a_number")
	require.Error(t, err)
	require.True(t, ErrInvalidTimeShorthand.Is(err))
}
