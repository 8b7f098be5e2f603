package masking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKubernetesSecretMasker_AppliesTo(t *testing.T) {
	m := &KubernetesSecretMasker{}

	tests := []struct {
		name    string
		data    string
		applies bool
	}{
		{"yaml secret", "apiVersion: v1\nkind: Secret\ndata:\n  k: dg==\n", true},
		{"json secret", `{"kind": "Secret", "data": {"k": "dg=="}}`, true},
		{"configmap", "apiVersion: v1\nkind: ConfigMap\ndata:\n  k: v\n", false},
		{"plain text mentioning Secret", "the word Secret appears here", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.applies, m.AppliesTo(tt.data))
		})
	}
}

func TestMask_YAMLSecretValuesRedacted(t *testing.T) {
	m := &KubernetesSecretMasker{}
	in := `apiVersion: v1
kind: Secret
metadata:
  name: db-creds
data:
  password: cGFzc3dvcmQ=
  username: YWRtaW4=
stringData:
  token: plain-token
`
	out := m.Mask(in)
	assert.NotContains(t, out, "cGFzc3dvcmQ=")
	assert.NotContains(t, out, "YWRtaW4=")
	assert.NotContains(t, out, "plain-token")
	assert.Contains(t, out, MaskedSecretValue)
	assert.Contains(t, out, "db-creds", "metadata must survive")
	assert.True(t, strings.HasSuffix(out, "\n"), "trailing newline preserved")
}

func TestMask_ConfigMapLeftUntouched(t *testing.T) {
	m := &KubernetesSecretMasker{}
	in := "apiVersion: v1\nkind: ConfigMap\ndata:\n  setting: value\n"
	assert.Equal(t, in, m.Mask(in))
}

func TestMask_JSONSecretStaysJSON(t *testing.T) {
	m := &KubernetesSecretMasker{}
	in := `{"apiVersion":"v1","kind":"Secret","metadata":{"name":"s"},"data":{"key":"c2VjcmV0"}}`
	out := m.Mask(in)
	require.NotEqual(t, in, out)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "{"), "JSON in, JSON out")
	assert.NotContains(t, out, "c2VjcmV0")
	assert.Contains(t, out, MaskedSecretValue)
}

func TestMask_MultiDocumentYAML(t *testing.T) {
	m := &KubernetesSecretMasker{}
	in := `kind: ConfigMap
data:
  plain: visible
---
kind: Secret
data:
  hidden: c2VjcmV0
`
	out := m.Mask(in)
	assert.Contains(t, out, "visible", "non-secret document untouched")
	assert.NotContains(t, out, "c2VjcmV0")
	assert.Contains(t, out, "---", "document boundary preserved")
}

func TestMask_ListWithMixedItems(t *testing.T) {
	m := &KubernetesSecretMasker{}
	in := `kind: List
items:
  - kind: ConfigMap
    data:
      plain: visible
  - kind: Secret
    data:
      hidden: c2VjcmV0
`
	out := m.Mask(in)
	assert.Contains(t, out, "visible")
	assert.NotContains(t, out, "c2VjcmV0")
}

func TestMask_SecretList(t *testing.T) {
	m := &KubernetesSecretMasker{}
	in := `kind: SecretList
items:
  - metadata:
      name: first
    data:
      a: c2VjcmV0MQ==
  - metadata:
      name: second
    data:
      b: c2VjcmV0Mg==
`
	out := m.Mask(in)
	assert.NotContains(t, out, "c2VjcmV0MQ==")
	assert.NotContains(t, out, "c2VjcmV0Mg==")
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "second")
}

func TestMask_AnnotationEmbeddedSecret(t *testing.T) {
	m := &KubernetesSecretMasker{}
	in := `kind: Secret
metadata:
  name: s
  annotations:
    kubectl.kubernetes.io/last-applied-configuration: '{"kind":"Secret","data":{"k":"c2VjcmV0"}}'
data:
  k: c2VjcmV0
`
	out := m.Mask(in)
	assert.NotContains(t, out, "c2VjcmV0", "the annotation copy must be redacted too")
}

func TestMask_FailsOpenOnUnparseableInput(t *testing.T) {
	m := &KubernetesSecretMasker{}
	in := "kind: Secret\ndata: [unbalanced"
	assert.Equal(t, in, m.Mask(in))
}
