package instruction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve_CanonicalNamesPassThrough(t *testing.T) {
	v := DefaultVocabulary()
	for _, name := range v.Names() {
		got, ok := v.Resolve(name)
		assert.True(t, ok, "canonical name %q should resolve", name)
		assert.Equal(t, name, got)
	}
}

func TestResolve_Aliases(t *testing.T) {
	v := DefaultVocabulary()
	cases := map[string]string{
		"search":        WebSearch,
		"SEARCH":        WebSearch,
		"  goto  ":      Navigate,
		"create_file":   WriteFile,
		"bash":          RunCommand,
		"str_replace":   EditFile,
		"done":          TaskComplete,
		"functions.cat": ReadFile,
	}
	for raw, want := range cases {
		got, ok := v.Resolve(raw)
		assert.True(t, ok, "alias %q should resolve", raw)
		assert.Equal(t, want, got, "alias %q", raw)
	}
}

func TestResolve_UnknownNamesRejected(t *testing.T) {
	v := DefaultVocabulary()
	for _, raw := range []string{"walmart", "teleport", "", "write file"} {
		_, ok := v.Resolve(raw)
		assert.False(t, ok, "%q should not resolve", raw)
	}
}

func TestCanonicalParamFor_ContextSensitiveText(t *testing.T) {
	v := DefaultVocabulary()
	assert.Equal(t, ParamContent, v.CanonicalParamFor(WriteFile, "text"))
	assert.Equal(t, ParamText, v.CanonicalParamFor(TypeText, "text"))
	assert.Equal(t, ParamPath, v.CanonicalParamFor(WriteFile, "filePath"))
	assert.Equal(t, ParamQuery, v.CanonicalParamFor(WebSearch, "q"))
}

func TestParams_OrderAndFingerprint(t *testing.T) {
	a := NewParams()
	a.Set("path", "a.txt")
	a.Set("content", "hi")

	b := NewParams()
	b.Set("content", "hi")
	b.Set("path", "a.txt")

	// Different insertion order, same canonical fingerprint.
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Equal(t, []string{"path", "content"}, a.Keys())
}

func TestParams_MarshalPreservesOrder(t *testing.T) {
	p := NewParams()
	p.Set("path", "a.txt")
	p.Set("content", "hi")
	raw, err := p.MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `{"path":"a.txt","content":"hi"}`, string(raw))
}

func TestInstruction_FingerprintDistinguishesNames(t *testing.T) {
	a := New(WriteFile)
	b := New(ReadFile)
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}
